package models

import (
	"errors"
	"fmt"
)

// ErrInvalidEntry is returned when an AdEntry fails validation.
var ErrInvalidEntry = errors.New("invalid ad entry")

// AdEntry is one eligible ad in a zone's inventory. The same campaign and ad
// unit may appear more than once in a zone.
type AdEntry struct {
	// CampaignID ties the entry to its advertiser and campaign. The advertiser
	// half selects the visitor's advertiser history during frequency capping.
	CampaignID CampaignID `json:"campaign_id"`
	// AdUnitID identifies the creative variant within the campaign. Frequency
	// caps are applied per ad unit.
	AdUnitID string `json:"ad_unit_id"`
	// Bid is the advertiser's eCPM and the primary ranking signal. Never negative.
	Bid float64 `json:"bid"`
	// Keywords are optional relevance terms matched against search keywords.
	Keywords []string `json:"keywords,omitempty"`
}

// AdDescriptor is the response shape returned to callers for a chosen ad.
type AdDescriptor struct {
	CampaignID CampaignID `json:"campaign_id"`
	AdUnitID   string     `json:"ad_unit_id"`
}

// Validate checks the entry's invariants.
func (e AdEntry) Validate() error {
	if err := e.CampaignID.Validate(); err != nil {
		return err
	}
	if e.AdUnitID == "" {
		return fmt.Errorf("%w: empty ad_unit_id for campaign %s", ErrInvalidEntry, e.CampaignID)
	}
	if e.Bid < 0 {
		return fmt.Errorf("%w: negative bid %v for %s/%s", ErrInvalidEntry, e.Bid, e.CampaignID, e.AdUnitID)
	}
	return nil
}

// AdvertiserID is shorthand for e.CampaignID.AdvertiserID.
func (e AdEntry) AdvertiserID() string {
	return e.CampaignID.AdvertiserID
}

// Descriptor returns the response view of the entry.
func (e AdEntry) Descriptor() AdDescriptor {
	return AdDescriptor{CampaignID: e.CampaignID, AdUnitID: e.AdUnitID}
}

// AdRequest carries the inputs of a selection call. UserID and Keywords are
// optional.
type AdRequest struct {
	SiteID   string   `json:"site_id"`
	ZoneID   string   `json:"zone_id"`
	UserID   string   `json:"user_id,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Zone returns the zone key addressed by the request.
func (r AdRequest) Zone() ZoneKey {
	return ZoneKey{SiteID: r.SiteID, ZoneID: r.ZoneID}
}
