package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "REDIS_ADDRS", "REDIS_ADDR", "INVENTORY_BACKEND", "FREQUENCY_WINDOW", "MAX_ADS"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "8787", cfg.Port)
	assert.Equal(t, BackendRedis, cfg.InventoryBackend)
	assert.Equal(t, 24*time.Hour, cfg.FrequencyWindow)
	assert.Equal(t, 10, cfg.MaxAds)
	assert.Equal(t, []string{"localhost:6379"}, cfg.RedisAddrs)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_ADDRS", "r1:6379, r2:6379,,")
	t.Setenv("INVENTORY_BACKEND", "Postgres")
	t.Setenv("PROFILE_FETCH_TIMEOUT", "15ms")
	t.Setenv("FREQUENCY_WINDOW", "3600")
	t.Setenv("SHUFFLE_SEED", "42")

	cfg := Load()
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.RedisAddrs)
	assert.Equal(t, BackendPostgres, cfg.InventoryBackend)
	assert.Equal(t, 15*time.Millisecond, cfg.ProfileFetchTimeout)
	assert.Equal(t, time.Hour, cfg.FrequencyWindow)
	assert.Equal(t, uint64(42), cfg.ShuffleSeed)
}

func TestEnvDuration_Invalid(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Second, envDuration("SOME_DURATION", time.Second))
}
