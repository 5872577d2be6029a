// Package telemetry owns process-wide Prometheus collectors and tracing setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MatchCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studymatch_match_cache_lookups_total",
		Help: "Sorted match cache lookups by result (hit, miss, expired)",
	}, []string{"result"})

	MatchCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studymatch_match_cache_entries",
		Help: "Users currently holding a sorted match cache entry",
	})

	MatchCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studymatch_match_cache_evictions_total",
		Help: "Entries removed because they outlived the cache TTL",
	})

	PrefetchTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studymatch_prefetch_triggered_total",
		Help: "Background refills started after crossing the low water mark",
	})

	RankingCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studymatch_ranking_calls_total",
		Help: "Ranking calls by outcome (ranked, partial, fallback)",
	}, []string{"outcome"})

	RankingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studymatch_ranking_seconds",
		Help:    "Latency of candidate ranking calls",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
	})

	ActionBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "studymatch_action_batch_size",
		Help:    "Actions per BatchActions call",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 16, 32},
	})

	ActionResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studymatch_actions_total",
		Help: "Applied swipe actions by action and result",
	}, []string{"action", "result"})

	Heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "studymatch_presence_signals_total",
		Help: "Presence heartbeats and offline signals by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		MatchCacheLookups, MatchCacheEntries, MatchCacheEvictions, PrefetchTriggered,
		RankingCalls, RankingLatency, ActionBatchSize, ActionResults, Heartbeats,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
