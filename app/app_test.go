package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip/case-funding-ledger/config"
	"github.com/phillip/case-funding-ledger/ledger"
)

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		StoreDriver: config.DriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "ledger.db"),
		JWTSecret:   "secret",
		Aggregation: "delta",
	}
}

func TestBuildSQLite(t *testing.T) {
	cfg := sqliteConfig(t)

	closeFn, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn(context.Background())) }()

	require.NotNil(t, cfg.Store)
	require.NotNil(t, cfg.Ledger)
	require.NotNil(t, cfg.Batches)
	assert.Nil(t, cfg.Uploader, "no uploader without cloudinary credentials")
	assert.Equal(t, ledger.StrategyDelta, cfg.Ledger.Aggregator().Strategy())
}

func TestBuildWithRedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sqliteConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	closeFn, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, closeFn(context.Background()))
}

func TestBuildRejectsInvalidRedisURL(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.RedisURL = "not a url"

	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "REDIS_URL")
}
