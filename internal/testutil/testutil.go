// Package testutil wires in-memory stores for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oggyb/studymatch/internal/cache"
	"github.com/oggyb/studymatch/internal/config"
	"github.com/oggyb/studymatch/internal/db"
)

// NewDB opens an isolated in-memory SQLite database with the schema applied.
// Each test gets its own database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openDB(t, func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) })
}

// NewFullPrecisionDB is NewDB without millisecond truncation, so timestamps
// keep the nanoseconds sqlite stores in production.
func NewFullPrecisionDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openDB(t, func() time.Time { return time.Now().UTC() })
}

func openDB(t *testing.T, now func() time.Time) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc:                now,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db.Models()...))
	return database
}

// NewSeededDB is NewDB plus db.SeedMinimalTestData.
func NewSeededDB(t *testing.T) *gorm.DB {
	t.Helper()
	database := NewDB(t)
	require.NoError(t, db.SeedMinimalTestData(database))
	return database
}

// NewRedis starts a miniredis and returns a RedisCache pointing at it.
func NewRedis(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}
