package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZoneRecord_WithoutCampaign(t *testing.T) {
	bmw := CampaignID{AdvertiserID: "bmw", Suffix: "c1"}
	audi := CampaignID{AdvertiserID: "audi", Suffix: "c9"}
	z := ZoneRecord{SiteID: "s1", ZoneID: "z1", Entries: []AdEntry{
		{CampaignID: bmw, AdUnitID: "u1", Bid: 250},
		{CampaignID: audi, AdUnitID: "u2", Bid: 200},
		{CampaignID: bmw, AdUnitID: "u3", Bid: 100},
	}}

	out, removed := z.WithoutCampaign(bmw)
	assert.Equal(t, 2, removed)
	assert.Len(t, out.Entries, 1)
	assert.Equal(t, audi, out.Entries[0].CampaignID)
	assert.Len(t, z.Entries, 3, "original record must not be modified")

	again, removed := out.WithoutCampaign(bmw)
	assert.Zero(t, removed)
	assert.Equal(t, out, again)
}

func TestZoneRecord_Campaigns(t *testing.T) {
	bmw := CampaignID{AdvertiserID: "bmw", Suffix: "c1"}
	z := ZoneRecord{SiteID: "s", ZoneID: "z", Entries: []AdEntry{
		{CampaignID: bmw, AdUnitID: "u1"},
		{CampaignID: bmw, AdUnitID: "u2"},
	}}
	assert.Equal(t, []CampaignID{bmw}, z.Campaigns())
}
