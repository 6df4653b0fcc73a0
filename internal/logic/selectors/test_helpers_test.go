package selectors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/db"
	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
	"github.com/patrickwarner/adselect/internal/partitioning"
)

// setupTestRedis spins up an in-memory Redis and returns a store backed by it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	store := db.NewRedisStore(redis.NewClient(&redis.Options{Addr: s.Addr()}), partitioning.NewStrategy(4))
	store.Logger = zap.NewNop()
	t.Cleanup(func() { _ = store.Client.Close() })
	return s, store
}

// newTestSelector wires a seeded selector over the store with a counting
// metrics registry.
func newTestSelector(store *db.RedisStore, seed uint64) (*AdSelector, *observability.CountingRegistry) {
	metrics := observability.NewCountingRegistry()
	s := NewAdSelector(store, store)
	s.SetRandomSource(logic.NewRandomSource(seed))
	s.SetMetrics(metrics)
	s.SetTimeouts(time.Second, time.Second)
	return s, metrics
}

func campaign(adv, suffix string) models.CampaignID {
	return models.CampaignID{AdvertiserID: adv, Suffix: suffix}
}

func putZone(t *testing.T, store *db.RedisStore, site, zone string, entries ...models.AdEntry) {
	t.Helper()
	if err := store.PutZone(context.Background(), models.ZoneRecord{SiteID: site, ZoneID: zone, Entries: entries}); err != nil {
		t.Fatalf("put zone: %v", err)
	}
}

// blockingProfiles waits for the context to end, simulating a slow profile store.
type blockingProfiles struct{}

func (blockingProfiles) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingProfiles always reports the given error.
type failingProfiles struct{ err error }

func (f failingProfiles) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return nil, f.err
}

// slowProfiles waits out the deadline and reports it the way the Redis store
// does, wrapped in ErrStoreUnavailable.
type slowProfiles struct{}

func (slowProfiles) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("get profile %s: %w: %w", userID, models.ErrStoreUnavailable, ctx.Err())
}
