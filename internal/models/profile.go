package models

import (
	"sort"
	"time"
)

// EventRecord is one impression or click a visitor had with an advertiser.
type EventRecord struct {
	Timestamp time.Time `json:"timestamp"`
	AdUnitID  string    `json:"ad_unit_id"`
	SiteID    string    `json:"site_id"`
	ZoneID    string    `json:"zone_id"`
}

// AdvertiserProfile is a visitor's history with one advertiser. Impressions
// are ordered most recent first.
type AdvertiserProfile struct {
	Impressions []EventRecord `json:"impressions,omitempty"`
	Clicks      []EventRecord `json:"clicks,omitempty"`
}

// IsEmpty reports whether the visitor has no recorded history.
func (p AdvertiserProfile) IsEmpty() bool {
	return len(p.Impressions) == 0 && len(p.Clicks) == 0
}

// AddImpression inserts an impression keeping the log ordered by timestamp
// descending.
func (p *AdvertiserProfile) AddImpression(ev EventRecord) {
	p.Impressions = insertDescending(p.Impressions, ev)
}

// AddClick inserts a click keeping the log ordered by timestamp descending.
func (p *AdvertiserProfile) AddClick(ev EventRecord) {
	p.Clicks = insertDescending(p.Clicks, ev)
}

func insertDescending(events []EventRecord, ev EventRecord) []EventRecord {
	i := sort.Search(len(events), func(i int) bool {
		return !events[i].Timestamp.After(ev.Timestamp)
	})
	events = append(events, EventRecord{})
	copy(events[i+1:], events[i:])
	events[i] = ev
	return events
}

// UserProfile is the per-visitor event history keyed by advertiser id. It is
// written by the event-ingestion pipeline and read-only to ad selection.
type UserProfile struct {
	UserID      string                       `json:"user_id"`
	Advertisers map[string]AdvertiserProfile `json:"advertisers"`
}

// NewUserProfile returns an empty profile for the visitor.
func NewUserProfile(userID string) *UserProfile {
	return &UserProfile{UserID: userID, Advertisers: make(map[string]AdvertiserProfile)}
}

// Advertiser returns the visitor's history with the advertiser. A missing
// advertiser is normal and yields an empty history. Safe on a nil profile.
func (u *UserProfile) Advertiser(advertiserID string) (AdvertiserProfile, bool) {
	if u == nil || u.Advertisers == nil {
		return AdvertiserProfile{}, false
	}
	p, ok := u.Advertisers[advertiserID]
	return p, ok
}

// RecordImpression appends an impression to the advertiser's log.
func (u *UserProfile) RecordImpression(advertiserID string, ev EventRecord) {
	if u.Advertisers == nil {
		u.Advertisers = make(map[string]AdvertiserProfile)
	}
	p := u.Advertisers[advertiserID]
	p.AddImpression(ev)
	u.Advertisers[advertiserID] = p
}

// RecordClick appends a click to the advertiser's log.
func (u *UserProfile) RecordClick(advertiserID string, ev EventRecord) {
	if u.Advertisers == nil {
		u.Advertisers = make(map[string]AdvertiserProfile)
	}
	p := u.Advertisers[advertiserID]
	p.AddClick(ev)
	u.Advertisers[advertiserID] = p
}
