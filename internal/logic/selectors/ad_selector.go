package selectors

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
)

const (
	DefaultZoneFetchTimeout    = 50 * time.Millisecond
	DefaultProfileFetchTimeout = 30 * time.Millisecond
)

// Selection modes used as metric labels.
const (
	modeSingle = "single"
	modeMulti  = "multi"
)

// AdSelector is the decision core. It fetches the zone inventory and the
// visitor profile concurrently, ranks the entries and returns the first ones
// that pass the frequency cap.
//
// Grouping and shuffling happen on every request. Zones with very large
// inventories pay that cost on the request path; pre-sorted or cached buckets
// would be the place to optimise it.
type AdSelector struct {
	zones          models.ZoneInventoryStore
	profiles       models.UserProfileStore
	logger         *zap.Logger
	metrics        observability.MetricsRegistry
	rng            logic.RandomSource
	frequency      logic.FrequencyCap
	zoneTimeout    time.Duration
	profileTimeout time.Duration
}

// NewAdSelector builds a selector over the two stores. profiles may be nil, in
// which case every request takes the no-targeting path.
func NewAdSelector(zones models.ZoneInventoryStore, profiles models.UserProfileStore) *AdSelector {
	return &AdSelector{
		zones:          zones,
		profiles:       profiles,
		logger:         zap.NewNop(),
		metrics:        observability.NewNoOpRegistry(),
		rng:            logic.NewRandomSource(0),
		frequency:      logic.NewFrequencyCap(logic.DefaultFrequencyWindow),
		zoneTimeout:    DefaultZoneFetchTimeout,
		profileTimeout: DefaultProfileFetchTimeout,
	}
}

// SetLogger configures the logger for this selector.
func (s *AdSelector) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
}

// SetMetrics configures the metrics registry.
func (s *AdSelector) SetMetrics(m observability.MetricsRegistry) {
	if m == nil {
		m = observability.NewNoOpRegistry()
	}
	s.metrics = m
}

// SetRandomSource replaces the tie-break shuffle source. Tests use a seeded
// source for reproducible orderings.
func (s *AdSelector) SetRandomSource(rng logic.RandomSource) {
	if rng == nil {
		rng = logic.NewRandomSource(0)
	}
	s.rng = rng
}

// SetFrequencyCap overrides the acceptability predicate.
func (s *AdSelector) SetFrequencyCap(fc logic.FrequencyCap) {
	s.frequency = fc
}

// SetTimeouts bounds the zone and profile fetches. Zero keeps the current value.
func (s *AdSelector) SetTimeouts(zone, profile time.Duration) {
	if zone > 0 {
		s.zoneTimeout = zone
	}
	if profile > 0 {
		s.profileTimeout = profile
	}
}

// ChooseAd returns the best acceptable entry for the request, or nil when the
// zone is missing, empty, or fully capped for the visitor.
func (s *AdSelector) ChooseAd(ctx context.Context, req models.AdRequest) (*models.AdEntry, error) {
	return s.chooseAd(ctx, req, nil)
}

// ChooseAdWithTrace behaves like ChooseAd but records intermediate candidate
// lists in the provided SelectionTrace.
func (s *AdSelector) ChooseAdWithTrace(ctx context.Context, req models.AdRequest, trace *logic.SelectionTrace) (*models.AdEntry, error) {
	return s.chooseAd(ctx, req, trace)
}

func (s *AdSelector) chooseAd(ctx context.Context, req models.AdRequest, trace *logic.SelectionTrace) (*models.AdEntry, error) {
	ctx, span := observability.GetTracer("selector").Start(ctx, "AdSelector.ChooseAd")
	defer span.End()
	span.SetAttributes(
		attribute.String("site_id", req.SiteID),
		attribute.String("zone_id", req.ZoneID),
		attribute.Bool("has_user", req.UserID != ""),
	)

	zone, profile, err := s.fetch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncrementSelectionOutcome(modeSingle, "error")
		return nil, err
	}
	if zone == nil || len(zone.Entries) == 0 {
		s.metrics.IncrementSelectionOutcome(modeSingle, "empty")
		return nil, nil
	}
	s.metrics.RecordCandidateCount(len(zone.Entries))
	trace.AddStep("candidates", zone.Entries)

	ordered := logic.Order(zone.Entries, logic.ByBid, s.rng)
	trace.AddStep("ordered", ordered)

	rejected := 0
	for i := range ordered {
		if !s.frequency.AcceptableFor(ordered[i], profile) {
			rejected++
			s.metrics.IncrementFrequencyCapRejections()
			continue
		}
		trace.AddStepWithDetails("selected", ordered[i:i+1], map[string]string{"frequency_rejected": strconv.Itoa(rejected)})
		s.metrics.IncrementSelectionOutcome(modeSingle, "filled")
		span.SetAttributes(attribute.String("campaign_id", ordered[i].CampaignID.String()))
		return &ordered[i], nil
	}
	trace.AddStepWithDetails("selected", nil, map[string]string{"frequency_rejected": strconv.Itoa(rejected)})
	s.metrics.IncrementSelectionOutcome(modeSingle, "capped")
	return nil, nil
}

// ChooseAds returns the zone's acceptable entries ranked by descending
// keyword score. Fetch failures are returned immediately; ranking happens
// before the sequence is returned and the frequency cap is applied as the
// sequence is consumed. The sequence can be ranged over only once.
func (s *AdSelector) ChooseAds(ctx context.Context, req models.AdRequest) (iter.Seq[models.AdEntry], error) {
	ctx, span := observability.GetTracer("selector").Start(ctx, "AdSelector.ChooseAds")
	defer span.End()
	span.SetAttributes(
		attribute.String("site_id", req.SiteID),
		attribute.String("zone_id", req.ZoneID),
		attribute.Int("keywords", len(req.Keywords)),
	)

	zone, profile, err := s.fetch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncrementSelectionOutcome(modeMulti, "error")
		return nil, err
	}
	if zone == nil || len(zone.Entries) == 0 {
		s.metrics.IncrementSelectionOutcome(modeMulti, "empty")
		return func(func(models.AdEntry) bool) {}, nil
	}
	s.metrics.RecordCandidateCount(len(zone.Entries))
	s.metrics.IncrementSelectionOutcome(modeMulti, "ranked")

	ordered := logic.Order(zone.Entries, logic.ScoreFunc(logic.NewKeywordSet(req.Keywords)), s.rng)
	var consumed atomic.Bool
	return func(yield func(models.AdEntry) bool) {
		if consumed.Swap(true) {
			return
		}
		for _, e := range ordered {
			if !s.frequency.AcceptableFor(e, profile) {
				s.metrics.IncrementFrequencyCapRejections()
				continue
			}
			if !yield(e) {
				return
			}
		}
	}, nil
}

// fetch loads the zone and, when the request names a visitor, the profile.
// The two calls run concurrently under their own timeouts. A profile timeout
// or an open profile circuit degrades to no targeting; every other failure is
// returned.
func (s *AdSelector) fetch(ctx context.Context, req models.AdRequest) (*models.ZoneRecord, *models.UserProfile, error) {
	if req.SiteID == "" || req.ZoneID == "" {
		return nil, nil, logic.ErrMissingZone
	}

	var (
		zone    *models.ZoneRecord
		profile *models.UserProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zctx, cancel := context.WithTimeout(gctx, s.zoneTimeout)
		defer cancel()
		start := time.Now()
		z, err := s.zones.GetZone(zctx, req.SiteID, req.ZoneID)
		s.metrics.RecordStoreLatency("zone", storeOutcome(z != nil, err), time.Since(start))
		if err != nil {
			if zctx.Err() != nil && !errors.Is(err, models.ErrStoreUnavailable) {
				err = errors.Join(models.ErrStoreUnavailable, err)
			}
			return err
		}
		zone = z
		return nil
	})

	if req.UserID != "" && s.profiles != nil {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, s.profileTimeout)
			defer cancel()
			start := time.Now()
			p, err := s.profiles.GetProfile(pctx, req.UserID)
			s.metrics.RecordStoreLatency("profile", storeOutcome(p != nil, err), time.Since(start))
			if err == nil {
				profile = p
				return nil
			}
			if reason := degradable(ctx, gctx, pctx, err); reason != "" {
				s.metrics.IncrementProfileDegradations()
				if observability.ShouldSample(observability.GetSamplingRate()) {
					s.logger.Info("profile unavailable, serving without targeting",
						zap.String("user_id", req.UserID),
						zap.String("reason", reason),
						zap.Duration("timeout", s.profileTimeout),
						zap.Error(err))
				}
				return nil
			}
			if !errors.Is(err, models.ErrStoreUnavailable) {
				err = errors.Join(models.ErrStoreUnavailable, err)
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Warn("selection fetch failed",
			zap.String("site_id", req.SiteID),
			zap.String("zone_id", req.ZoneID),
			zap.Error(err))
		return nil, nil, err
	}
	return zone, profile, nil
}

// degradable reports why a profile failure may be served without targeting,
// or "" when the request has to fail. A timed-out fetch and a fetch refused
// by an open circuit both qualify, as long as the request itself is still
// live. Errors returned by the store itself do not.
func degradable(ctx, gctx, pctx context.Context, err error) string {
	if ctx.Err() != nil || gctx.Err() != nil {
		return ""
	}
	switch {
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, models.ErrCircuitOpen):
		return "circuit_open"
	default:
		return ""
	}
}

func storeOutcome(found bool, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, models.ErrCircuitOpen):
		return "circuit_open"
	case err != nil:
		return "error"
	case found:
		return "hit"
	default:
		return "miss"
	}
}
