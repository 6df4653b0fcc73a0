package logic

import (
	"time"

	"github.com/patrickwarner/adselect/internal/models"
)

// DefaultFrequencyWindow is the trailing window in which a visitor may not see
// the same ad unit twice.
const DefaultFrequencyWindow = 24 * time.Hour

// FrequencyCap is the acceptability predicate applied to every candidate.
// Only impressions are consulted; clicks never suppress an ad.
type FrequencyCap struct {
	Window time.Duration
	// Now returns the evaluation time. Nil means time.Now.
	Now func() time.Time
}

// NewFrequencyCap returns a cap with the given window, falling back to
// DefaultFrequencyWindow for non-positive values.
func NewFrequencyCap(window time.Duration) FrequencyCap {
	if window <= 0 {
		window = DefaultFrequencyWindow
	}
	return FrequencyCap{Window: window}
}

func (f FrequencyCap) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Acceptable reports whether entry may be shown to a visitor with the given
// advertiser history. The impressions log is ordered most recent first, so the
// scan ends at the first record that falls outside the window.
func (f FrequencyCap) Acceptable(entry models.AdEntry, history models.AdvertiserProfile) bool {
	if len(history.Impressions) == 0 {
		return true
	}
	window := f.Window
	if window <= 0 {
		window = DefaultFrequencyWindow
	}
	cutoff := f.now().Add(-window)
	for _, ev := range history.Impressions {
		if ev.Timestamp.Before(cutoff) {
			break
		}
		if ev.AdUnitID == entry.AdUnitID {
			return false
		}
	}
	return true
}

// AcceptableFor resolves the entry's advertiser in the profile and applies the
// cap. A nil profile or an advertiser without history is always acceptable.
func (f FrequencyCap) AcceptableFor(entry models.AdEntry, profile *models.UserProfile) bool {
	history, ok := profile.Advertiser(entry.AdvertiserID())
	if !ok {
		return true
	}
	return f.Acceptable(entry, history)
}
