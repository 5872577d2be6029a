package main

import (
	"flag"
	"os"

	"github.com/oggyb/studymatch/internal/config"
	"github.com/oggyb/studymatch/internal/db"
	"github.com/oggyb/studymatch/internal/logger"
)

func main() {
	count := flag.Int("count", 120, "number of demo students to create")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger.InitFromConfig(cfg)

	database, err := db.NewDB(cfg)
	if err != nil {
		logger.Error("failed to init db", "err", err)
		os.Exit(1)
	}

	if err := db.SeedTestData(database, *count); err != nil {
		logger.Error("failed to seed", "err", err)
		os.Exit(1)
	}

	logger.Info("seeding completed", "students", *count)
}
