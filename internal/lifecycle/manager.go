// Package lifecycle removes deactivated campaigns from zone inventory.
// Removal is a scatter-gather pass over the partitions that is repeated until
// no zone is left pending.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
)

const (
	DefaultMaxAttempts   = 5
	DefaultRetryInterval = 200 * time.Millisecond
)

// ErrNotConverged is returned when retries run out with zones still pending.
var ErrNotConverged = errors.New("campaign removal did not converge")

// Report describes the outcome of a deactivation.
type Report struct {
	CampaignID models.CampaignID    `json:"campaign_id"`
	Attempts   int                  `json:"attempts"`
	Result     models.RemovalResult `json:"result"`
	Converged  bool                 `json:"converged"`
	Duration   time.Duration        `json:"duration_ns"`
}

// Manager deactivates campaigns against a ZoneInventoryStore.
type Manager struct {
	store         models.ZoneInventoryStore
	logger        *zap.Logger
	metrics       observability.MetricsRegistry
	maxAttempts   int
	retryInterval time.Duration
}

// NewManager returns a Manager with default retry settings.
func NewManager(store models.ZoneInventoryStore, logger *zap.Logger, metrics observability.MetricsRegistry) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Manager{
		store:         store,
		logger:        logger,
		metrics:       metrics,
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
	}
}

// SetRetry configures the attempt limit and the initial retry interval.
// Non-positive values keep the current setting.
func (m *Manager) SetRetry(maxAttempts int, interval time.Duration) {
	if maxAttempts > 0 {
		m.maxAttempts = maxAttempts
	}
	if interval > 0 {
		m.retryInterval = interval
	}
}

// DeactivateCampaign removes every entry of the campaign from every zone. The
// removal pass is repeated with exponential backoff while zones remain
// pending. Calling it again after convergence finds nothing to remove.
func (m *Manager) DeactivateCampaign(ctx context.Context, id models.CampaignID) (Report, error) {
	if err := id.Validate(); err != nil {
		return Report{CampaignID: id}, err
	}
	start := time.Now()
	report := Report{CampaignID: id}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retryInterval
	b.MaxInterval = 20 * m.retryInterval

	_, err := backoff.Retry(ctx, func() (models.RemovalResult, error) {
		report.Attempts++
		res, err := m.store.RemoveCampaignAds(ctx, id)
		if err != nil {
			m.metrics.IncrementDeactivationAttempts("error")
			if !errors.Is(err, models.ErrStoreUnavailable) {
				return res, backoff.Permanent(err)
			}
			return res, err
		}
		report.Result.Merge(res)
		m.metrics.AddEntriesRemoved(res.EntriesRemoved)
		if !res.Converged() {
			m.metrics.IncrementDeactivationAttempts("pending")
			return res, fmt.Errorf("%w: %d zones or partitions pending", ErrNotConverged, res.PendingCount())
		}
		m.metrics.IncrementDeactivationAttempts("converged")
		return res, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("campaign removal incomplete, retrying",
				zap.String("campaign_id", id.String()),
				zap.Int("attempt", report.Attempts),
				zap.Duration("next_retry", next),
				zap.Error(err))
		}),
	)
	report.Duration = time.Since(start)
	report.Converged = err == nil
	if err != nil {
		m.logger.Error("campaign deactivation failed",
			zap.String("campaign_id", id.String()),
			zap.Int("attempts", report.Attempts),
			zap.Int("pending", report.Result.PendingCount()),
			zap.Error(err))
		return report, err
	}
	m.logger.Info("campaign deactivated",
		zap.String("campaign_id", id.String()),
		zap.Int("attempts", report.Attempts),
		zap.Int("zones_updated", report.Result.ZonesUpdated),
		zap.Int("entries_removed", report.Result.EntriesRemoved),
		zap.Duration("duration", report.Duration))
	return report, nil
}
