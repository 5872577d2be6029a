package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/studymatch/internal/app"
	"github.com/oggyb/studymatch/internal/cache"
	"github.com/oggyb/studymatch/internal/config"
	"github.com/oggyb/studymatch/internal/db"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/matchcache"
	"github.com/oggyb/studymatch/internal/server"
	"github.com/oggyb/studymatch/internal/service/match"
	"github.com/oggyb/studymatch/internal/service/presence"
	"github.com/oggyb/studymatch/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg)
	if err != nil {
		log.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		os.Exit(1)
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(ctx); err != nil {
		log.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database, 120); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	appCtx := app.New(cfg, database, redisCache, log)

	sweeper := matchcache.NewSweeper(appCtx.MatchCache, cfg.Matching.SweepInterval, log)
	sweeper.Start()
	defer sweeper.Stop()

	matchReg := match.NewRegistrar(appCtx)
	presenceReg := presence.NewRegistrar(appCtx)

	grpcServer := server.NewGRPCServer(appCtx, matchReg, presenceReg)
	httpHandler := server.NewHTTPHandler(appCtx, presenceReg)

	log.Info("starting servers",
		"grpc", cfg.GRPC.Host+":"+cfg.GRPC.Port,
		"http", cfg.HTTP.Addr,
		"ranker", cfg.Ranking.Provider,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.StartGRPCServer(gctx, appCtx, grpcServer) })
	g.Go(func() error { return server.StartHTTPServer(gctx, appCtx, httpHandler) })

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "err", err)
	}
	// let background refills finish before the db goes away
	matchReg.Service().Wait()
	log.Info("shutdown complete")
}
