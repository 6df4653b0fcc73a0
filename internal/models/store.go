package models

import (
	"context"
	"errors"
)

// ErrStoreUnavailable marks infrastructure failures (timeouts, connection
// errors, open circuit breakers). It is distinct from "not found" so that an
// outage is never mistaken for an empty zone.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrCircuitOpen marks a call rejected by an open or half-open circuit breaker
// without reaching the store. It is always joined with ErrStoreUnavailable.
var ErrCircuitOpen = errors.New("circuit open")

// ZoneInventoryStore persists the ranked ad entries of every (site, zone)
// pair. It is partitioned on the zone key so GetZone touches one partition.
type ZoneInventoryStore interface {
	// GetZone returns the zone or nil when it does not exist.
	GetZone(ctx context.Context, siteID, zoneID string) (*ZoneRecord, error)
	// RemoveCampaignAds removes every entry of the campaign from every zone.
	// Each zone is updated atomically; zones are not updated together. Zones
	// that could not be updated are listed in RemovalResult.Pending, or in
	// PendingPartitions when the store cannot name them.
	RemoveCampaignAds(ctx context.Context, id CampaignID) (RemovalResult, error)
}

// UserProfileStore persists visitor histories partitioned by user id.
type UserProfileStore interface {
	// GetProfile returns the profile or nil when the visitor is unknown.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
}

// RemovalResult summarises one scatter-gather removal pass.
type RemovalResult struct {
	// ZonesMatched is the number of zones the campaign index pointed at.
	ZonesMatched int `json:"zones_matched"`
	// ZonesUpdated is the number of zones that had entries removed in this pass.
	ZonesUpdated int `json:"zones_updated"`
	// EntriesRemoved counts removed entries across all zones.
	EntriesRemoved int `json:"entries_removed"`
	// Pending lists zones that failed to converge and need another pass.
	Pending []ZoneKey `json:"pending,omitempty"`
	// PendingPartitions lists partitions whose removal failed as a whole,
	// for stores that remove per partition rather than per zone.
	PendingPartitions []int `json:"pending_partitions,omitempty"`
}

// Converged reports whether every targeted zone has been updated.
func (r RemovalResult) Converged() bool {
	return len(r.Pending) == 0 && len(r.PendingPartitions) == 0
}

// PendingCount is the number of zones and partitions still to converge.
func (r RemovalResult) PendingCount() int {
	return len(r.Pending) + len(r.PendingPartitions)
}

// Merge folds another pass into r. Pending and PendingPartitions are replaced
// by the later pass.
func (r *RemovalResult) Merge(next RemovalResult) {
	if next.ZonesMatched > r.ZonesMatched {
		r.ZonesMatched = next.ZonesMatched
	}
	r.ZonesUpdated += next.ZonesUpdated
	r.EntriesRemoved += next.EntriesRemoved
	r.Pending = next.Pending
	r.PendingPartitions = next.PendingPartitions
}
