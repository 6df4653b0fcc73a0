package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/models"
)

// BreakerConfig tunes the circuit breakers placed in front of the stores.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive unavailable errors that
	// opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	Logger      *zap.Logger
}

func (c BreakerConfig) settings(name string) gobreaker.Settings {
	threshold := c.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := c.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.L()
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Missing records and malformed data say nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, models.ErrStoreUnavailable)
		},
	}
}

// rejected maps breaker rejections onto ErrStoreUnavailable and
// ErrCircuitOpen.
func rejected(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %w: %w", name, models.ErrStoreUnavailable, models.ErrCircuitOpen, err)
	}
	return err
}

// ZoneBreaker guards a ZoneInventoryStore with a circuit breaker. Removal
// calls bypass the breaker: they are retried by the lifecycle manager and
// must not be starved by read-path failures.
type ZoneBreaker struct {
	next models.ZoneInventoryStore
	cb   *gobreaker.CircuitBreaker[*models.ZoneRecord]
}

// NewZoneBreaker wraps the inventory store.
func NewZoneBreaker(next models.ZoneInventoryStore, cfg BreakerConfig) *ZoneBreaker {
	return &ZoneBreaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*models.ZoneRecord](cfg.settings("zone-inventory")),
	}
}

func (b *ZoneBreaker) GetZone(ctx context.Context, siteID, zoneID string) (*models.ZoneRecord, error) {
	z, err := b.cb.Execute(func() (*models.ZoneRecord, error) {
		return b.next.GetZone(ctx, siteID, zoneID)
	})
	return z, rejected(b.cb.Name(), err)
}

func (b *ZoneBreaker) RemoveCampaignAds(ctx context.Context, id models.CampaignID) (models.RemovalResult, error) {
	return b.next.RemoveCampaignAds(ctx, id)
}

// State exposes the breaker state for health reporting.
func (b *ZoneBreaker) State() gobreaker.State {
	return b.cb.State()
}

// ProfileBreaker guards a UserProfileStore with a circuit breaker.
type ProfileBreaker struct {
	next models.UserProfileStore
	cb   *gobreaker.CircuitBreaker[*models.UserProfile]
}

// NewProfileBreaker wraps the profile store.
func NewProfileBreaker(next models.UserProfileStore, cfg BreakerConfig) *ProfileBreaker {
	return &ProfileBreaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*models.UserProfile](cfg.settings("user-profiles")),
	}
}

func (b *ProfileBreaker) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	p, err := b.cb.Execute(func() (*models.UserProfile, error) {
		return b.next.GetProfile(ctx, userID)
	})
	return p, rejected(b.cb.Name(), err)
}

func (b *ProfileBreaker) State() gobreaker.State {
	return b.cb.State()
}
