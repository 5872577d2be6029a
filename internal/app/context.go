package app

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/oggyb/studymatch/internal/auth"
	"github.com/oggyb/studymatch/internal/cache"
	"github.com/oggyb/studymatch/internal/config"
	"github.com/oggyb/studymatch/internal/matchcache"
	"github.com/oggyb/studymatch/internal/ranking"
)

// AppContext holds shared dependencies (DB, Redis, Logger, match cache, etc.)
type AppContext struct {
	Config     *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	MatchCache *matchcache.Cache
	Ranker     ranking.Ranker
	Tokens     *auth.Tokens
}

// New creates a new AppContext. The match cache, ranker and token issuer are
// built from cfg.
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger) *AppContext {
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		MatchCache: matchcache.New(matchcache.Options{
			TTL:       cfg.Matching.CacheTTL,
			Threshold: cfg.Matching.PrefetchThreshold,
			BatchSize: cfg.Matching.BatchSize,
		}),
		Ranker: NewRanker(cfg.Ranking),
		Tokens: auth.NewTokens(cfg.Auth),
	}
}

// NewRanker picks the ranking backend. Without an API key the heuristic
// ranker is used.
func NewRanker(cfg config.RankingConfig) ranking.Ranker {
	if cfg.Provider == "openai" && cfg.APIKey != "" {
		return ranking.NewOpenAIRanker(cfg)
	}
	return ranking.HeuristicRanker{}
}
