package models

import "fmt"

// ZoneKey is the composite (site, zone) identifier. It is also the partition
// key of the zone inventory.
type ZoneKey struct {
	SiteID string `json:"site_id"`
	ZoneID string `json:"zone_id"`
}

func (k ZoneKey) String() string {
	return fmt.Sprintf("%s/%s", k.SiteID, k.ZoneID)
}

// ZoneRecord holds the inventory of one placement slot. Entries are
// conceptually grouped by descending bid; the stored order carries no meaning
// beyond making that grouping cheap at read time.
type ZoneRecord struct {
	SiteID  string    `json:"site_id"`
	ZoneID  string    `json:"zone_id"`
	Entries []AdEntry `json:"entries"`
}

// Key returns the record's zone key.
func (z ZoneRecord) Key() ZoneKey {
	return ZoneKey{SiteID: z.SiteID, ZoneID: z.ZoneID}
}

// Validate checks every entry in the zone.
func (z ZoneRecord) Validate() error {
	if z.SiteID == "" || z.ZoneID == "" {
		return fmt.Errorf("%w: zone record needs site and zone ids", ErrInvalidEntry)
	}
	for i, e := range z.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("zone %s entry %d: %w", z.Key(), i, err)
		}
	}
	return nil
}

// Campaigns returns the distinct campaigns present in the zone.
func (z ZoneRecord) Campaigns() []CampaignID {
	seen := make(map[CampaignID]struct{}, len(z.Entries))
	var out []CampaignID
	for _, e := range z.Entries {
		if _, ok := seen[e.CampaignID]; ok {
			continue
		}
		seen[e.CampaignID] = struct{}{}
		out = append(out, e.CampaignID)
	}
	return out
}

// WithoutCampaign returns a copy of the record with every entry of the given
// campaign removed, along with the number of entries dropped.
func (z ZoneRecord) WithoutCampaign(id CampaignID) (ZoneRecord, int) {
	kept := make([]AdEntry, 0, len(z.Entries))
	for _, e := range z.Entries {
		if e.CampaignID == id {
			continue
		}
		kept = append(kept, e)
	}
	out := z
	out.Entries = kept
	return out, len(z.Entries) - len(kept)
}
