package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/partitioning"
)

const (
	defaultRemovalConcurrency = 8
	defaultMaxTxRetries       = 5
)

// RedisStore keeps zone inventory, visitor profiles and the campaign index in
// Redis. Every key embeds its partition key as a hash tag, so with a cluster
// client each zone or profile lives on exactly one slot.
type RedisStore struct {
	Client   redis.UniversalClient
	Strategy partitioning.Strategy
	// Concurrency bounds the partition workers used by RemoveCampaignAds.
	Concurrency int
	// MaxTxRetries bounds optimistic-lock retries of a single zone update.
	MaxTxRetries int
	Logger       *zap.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, strategy partitioning.Strategy) *RedisStore {
	return &RedisStore{
		Client:       client,
		Strategy:     strategy,
		Concurrency:  defaultRemovalConcurrency,
		MaxTxRetries: defaultMaxTxRetries,
		Logger:       zap.L(),
	}
}

// InitRedis connects to Redis and returns a RedisStore. A single address
// yields a plain client, several addresses a cluster client.
func InitRedis(ctx context.Context, addrs []string, strategy partitioning.Strategy) (*RedisStore, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: addrs})

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.Strings("addrs", addrs), zap.Int("partitions", strategy.Partitions))
	return NewRedisStore(client, strategy), nil
}

// unavailable tags an infrastructure error so callers can tell it apart from
// a missing record.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}

func (r *RedisStore) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// GetZone fetches one zone. A missing zone returns nil, nil; a stored record
// that fails validation returns an error wrapping ErrInvalidEntry or
// ErrMalformedCampaignID.
func (r *RedisStore) GetZone(ctx context.Context, siteID, zoneID string) (*models.ZoneRecord, error) {
	key := r.Strategy.ZoneRoutingKey(models.ZoneKey{SiteID: siteID, ZoneID: zoneID})
	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get zone "+key, err)
	}
	z, err := decodeZone(key, siteID, zoneID, data)
	if err != nil {
		return nil, err
	}
	// records from other writers may break entry invariants such as bid >= 0
	if err := z.Validate(); err != nil {
		return nil, fmt.Errorf("read zone %s: %w", key, err)
	}
	return z, nil
}

func decodeZone(key, siteID, zoneID string, data []byte) (*models.ZoneRecord, error) {
	var z models.ZoneRecord
	if err := json.Unmarshal(data, &z); err != nil {
		return nil, fmt.Errorf("decode zone %s: %w", key, err)
	}
	z.SiteID, z.ZoneID = siteID, zoneID
	return &z, nil
}

// PutZone writes a zone record. The campaign index is extended before the
// zone is written, so the index never misses a zone holding a campaign; it
// may briefly list zones that no longer do, which removal tolerates. The
// index is extended again after the write: a removal that unindexed the zone
// in between has then either seen the new record or is overridden here.
func (r *RedisStore) PutZone(ctx context.Context, z models.ZoneRecord) error {
	if err := z.Validate(); err != nil {
		return err
	}
	key := r.Strategy.ZoneRoutingKey(z.Key())
	campaigns := z.Campaigns()
	if err := r.indexZone(ctx, key, campaigns); err != nil {
		return err
	}
	if z.Entries == nil {
		z.Entries = []models.AdEntry{}
	}
	data, err := json.Marshal(z)
	if err != nil {
		return fmt.Errorf("encode zone %s: %w", key, err)
	}
	if err := r.Client.Set(ctx, key, data, 0).Err(); err != nil {
		return unavailable("put zone "+key, err)
	}
	return r.indexZone(ctx, key, campaigns)
}

func (r *RedisStore) indexZone(ctx context.Context, key string, campaigns []models.CampaignID) error {
	for _, c := range campaigns {
		if err := r.Client.SAdd(ctx, r.Strategy.CampaignIndexKey(c), key).Err(); err != nil {
			return unavailable("index campaign "+c.String(), err)
		}
	}
	return nil
}

// ZonesForCampaign lists the zones the campaign index points at.
func (r *RedisStore) ZonesForCampaign(ctx context.Context, id models.CampaignID) ([]models.ZoneKey, error) {
	members, err := r.Client.SMembers(ctx, r.Strategy.CampaignIndexKey(id)).Result()
	if err != nil {
		return nil, unavailable("read campaign index "+id.String(), err)
	}
	zones := make([]models.ZoneKey, 0, len(members))
	for _, m := range members {
		z, err := r.Strategy.ZoneFromRoutingKey(m)
		if err != nil {
			r.logger().Warn("dropping malformed campaign index member",
				zap.String("campaign_id", id.String()), zap.String("member", m), zap.Error(err))
			_ = r.Client.SRem(ctx, r.Strategy.CampaignIndexKey(id), m).Err()
			continue
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// RemoveCampaignAds removes the campaign from every zone listed in its index.
// Zones are grouped by partition and each group is handled by its own worker;
// every zone is rewritten under an optimistic lock, so a zone is either fully
// updated or untouched. Zones that fail are reported as pending.
func (r *RedisStore) RemoveCampaignAds(ctx context.Context, id models.CampaignID) (models.RemovalResult, error) {
	zones, err := r.ZonesForCampaign(ctx, id)
	if err != nil {
		return models.RemovalResult{}, err
	}
	result := models.RemovalResult{ZonesMatched: len(zones)}
	if len(zones) == 0 {
		return result, nil
	}

	limit := r.Concurrency
	if limit <= 0 {
		limit = defaultRemovalConcurrency
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(limit)
	for partition, group := range r.Strategy.GroupZones(zones) {
		g.Go(func() error {
			for _, zk := range group {
				removed, err := r.removeFromZone(ctx, zk, id)
				mu.Lock()
				if err != nil {
					r.logger().Warn("campaign removal pending for zone",
						zap.String("campaign_id", id.String()),
						zap.String("zone", zk.String()),
						zap.Int("partition", partition),
						zap.Error(err))
					result.Pending = append(result.Pending, zk)
				} else {
					result.EntriesRemoved += removed
					if removed > 0 {
						result.ZonesUpdated++
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

// removeFromZone drops the campaign's entries from one zone atomically and
// then removes the zone from the campaign index.
func (r *RedisStore) removeFromZone(ctx context.Context, zk models.ZoneKey, id models.CampaignID) (int, error) {
	key := r.Strategy.ZoneRoutingKey(zk)
	removed := 0
	txf := func(tx *redis.Tx) error {
		removed = 0
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		z, err := decodeZone(key, zk.SiteID, zk.ZoneID, data)
		if err != nil {
			return err
		}
		next, n := z.WithoutCampaign(id)
		if n == 0 {
			return nil
		}
		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			removed = n
		}
		return err
	}

	retries := r.MaxTxRetries
	if retries <= 0 {
		retries = defaultMaxTxRetries
	}
	var err error
	for i := 0; i < retries; i++ {
		err = r.Client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("update zone %s: %w", key, err)
	}
	if err := r.unindexZone(ctx, zk, id); err != nil {
		return removed, err
	}
	return removed, nil
}

// unindexZone drops the zone from the campaign index, then reads the zone
// back. If a concurrent PutZone has put the campaign back in the meantime the
// index entry is restored, so the index keeps every zone holding the campaign.
func (r *RedisStore) unindexZone(ctx context.Context, zk models.ZoneKey, id models.CampaignID) error {
	key := r.Strategy.ZoneRoutingKey(zk)
	index := r.Strategy.CampaignIndexKey(id)
	if err := r.Client.SRem(ctx, index, key).Err(); err != nil {
		return unavailable("unindex zone "+key, err)
	}
	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return unavailable("recheck zone "+key, err)
	}
	z, err := decodeZone(key, zk.SiteID, zk.ZoneID, data)
	if err != nil {
		return err
	}
	if _, n := z.WithoutCampaign(id); n == 0 {
		return nil
	}
	r.logger().Info("campaign written back during removal, keeping index entry",
		zap.String("campaign_id", id.String()), zap.String("zone", zk.String()))
	if err := r.Client.SAdd(ctx, index, key).Err(); err != nil {
		return unavailable("reindex zone "+key, err)
	}
	return nil
}

// GetProfile fetches a visitor profile. An unknown visitor returns nil, nil.
func (r *RedisStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	key := r.Strategy.ProfileRoutingKey(userID)
	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get profile "+key, err)
	}
	var p models.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", key, err)
	}
	p.UserID = userID
	return &p, nil
}

// PutProfile writes a visitor profile. Production profiles are written by the
// event pipeline; this is used for seeding and tests.
func (r *RedisStore) PutProfile(ctx context.Context, p models.UserProfile) error {
	key := r.Strategy.ProfileRoutingKey(p.UserID)
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", key, err)
	}
	if err := r.Client.Set(ctx, key, data, 0).Err(); err != nil {
		return unavailable("put profile "+key, err)
	}
	return nil
}

// RecordImpression appends an impression to a visitor's history under an
// optimistic lock, creating the profile when needed.
func (r *RedisStore) RecordImpression(ctx context.Context, userID, advertiserID string, ev models.EventRecord) error {
	key := r.Strategy.ProfileRoutingKey(userID)
	txf := func(tx *redis.Tx) error {
		p := models.NewUserProfile(userID)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, p); err != nil {
				return fmt.Errorf("decode profile %s: %w", key, err)
			}
		}
		p.RecordImpression(advertiserID, ev)
		out, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}
	var err error
	for i := 0; i < defaultMaxTxRetries; i++ {
		err = r.Client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return unavailable("record impression "+key, err)
	}
	return nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
