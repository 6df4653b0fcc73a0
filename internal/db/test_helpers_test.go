package db

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/partitioning"
)

// setupTestRedis spins up an in-memory Redis and returns a store backed by it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: s.Addr()}), partitioning.NewStrategy(4))
	store.Logger = zap.NewNop()
	t.Cleanup(func() { _ = store.Client.Close() })
	return s, store
}
