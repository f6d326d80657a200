package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_SERVICE", "taxengine-test")
	t.Setenv("DATABASE_TYPE", "SQLite")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "7")
	t.Setenv("DATABASE_METRICS_ENABLED", "off")
	t.Setenv("REDIS_ADDR", " localhost:6379 ")

	cfg := Load()

	assert.Equal(t, "taxengine-test", cfg.AppName)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, 7, cfg.DBMaxOpenConn)
	assert.False(t, cfg.DBMetricsEnabled)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("DATABASE_MAX_IDLE_CONN", "many")
	t.Setenv("ENVIRONMENT", "Production")

	cfg := Load()

	assert.Equal(t, 5, cfg.DBMaxIdleConn)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "yes")
	t.Setenv("RATE_LIMIT_CALCULATE_RATE", "2.5")
	t.Setenv("RATE_LIMIT_CALCULATE_BURST", "nope")

	cfg := Load()

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 2.5, cfg.RateLimit.CalculateRate)
	assert.Equal(t, 100, cfg.RateLimit.CalculateBurst)
}
