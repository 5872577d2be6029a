// Package ranking scores study-partner candidates for a viewer.
//
// Ranker implementations may fail; callers go through Rank, which never does:
// a failed or malformed ranking degrades to Fallback ordering.
package ranking

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/oggyb/studymatch/internal/telemetry"
)

const (
	MinScore = 60
	MaxScore = 99
	// FallbackBase is the first synthetic score before the countdown is added.
	FallbackBase = 75

	reasonNotRanked = "Not ranked by compatibility model"
	reasonFallback  = "Compatibility ranking unavailable; shown in discovery order"
)

// ErrMalformed marks a ranking response that could not be used at all.
var ErrMalformed = errors.New("malformed ranking response")

// Profile is the ranking view of a student.
type Profile struct {
	UserID     uint64   `json:"userId"`
	Name       string   `json:"name,omitempty"`
	University string   `json:"university,omitempty"`
	Major      string   `json:"major,omitempty"`
	Year       int      `json:"year,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	StudyStyle string   `json:"studyStyle,omitempty"`
	Bio        string   `json:"bio,omitempty"`
}

// Ranked is one scored candidate.
type Ranked struct {
	UserID    uint64
	Score     int
	Reasoning string
}

// Ranker scores candidates against a viewer. The result should cover every
// candidate, sorted by descending score.
type Ranker interface {
	Rank(ctx context.Context, viewer Profile, candidates []Profile) ([]Ranked, error)
}

// Outcome reports how Rank produced its result.
type Outcome string

const (
	OutcomeRanked   Outcome = "ranked"
	OutcomePartial  Outcome = "partial"
	OutcomeFallback Outcome = "fallback"
)

// Rank calls r and normalizes its answer. It never fails: ranking errors and
// unusable output are logged and replaced by Fallback.
func Rank(ctx context.Context, r Ranker, log *slog.Logger, viewer Profile, candidates []Profile) ([]Ranked, Outcome) {
	if len(candidates) == 0 {
		return nil, OutcomeRanked
	}

	start := time.Now()
	raw, err := r.Rank(ctx, viewer, candidates)
	telemetry.RankingLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		var partial bool
		var out []Ranked
		out, partial, err = Normalize(raw, candidates)
		if err == nil {
			outcome := OutcomeRanked
			if partial {
				outcome = OutcomePartial
				log.Warn("ranking response missed candidates", "viewer", viewer.UserID, "candidates", len(candidates))
			}
			telemetry.RankingCalls.WithLabelValues(string(outcome)).Inc()
			return out, outcome
		}
	}

	log.Warn("ranking failed, using fallback order", "viewer", viewer.UserID, "candidates", len(candidates), "err", err)
	telemetry.RankingCalls.WithLabelValues(string(OutcomeFallback)).Inc()
	return Fallback(candidates), OutcomeFallback
}

// Normalize clamps scores, drops ids that were not asked for (and
// duplicates), sorts by descending score and appends candidates the ranker
// left out with MinScore. partial reports whether anything was appended.
// A response with no usable entry is ErrMalformed.
func Normalize(raw []Ranked, candidates []Profile) (out []Ranked, partial bool, err error) {
	wanted := make(map[uint64]bool, len(candidates))
	for _, c := range candidates {
		wanted[c.UserID] = true
	}

	seen := make(map[uint64]bool, len(raw))
	for _, r := range raw {
		if !wanted[r.UserID] || seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		r.Score = clamp(r.Score)
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, false, ErrMalformed
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	for _, c := range candidates {
		if seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		partial = true
		out = append(out, Ranked{UserID: c.UserID, Score: MinScore, Reasoning: reasonNotRanked})
	}
	return out, partial, nil
}

// Fallback keeps the input order and assigns descending synthetic scores
// FallbackBase + remaining count, clamped to [MinScore, MaxScore].
func Fallback(candidates []Profile) []Ranked {
	out := make([]Ranked, len(candidates))
	n := len(candidates)
	for i, c := range candidates {
		out[i] = Ranked{
			UserID:    c.UserID,
			Score:     clamp(FallbackBase + (n - 1 - i)),
			Reasoning: reasonFallback,
		}
	}
	return out
}

func clamp(score int) int {
	switch {
	case score < MinScore:
		return MinScore
	case score > MaxScore:
		return MaxScore
	}
	return score
}
