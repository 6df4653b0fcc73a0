package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserProfile_AdvertiserMissingIsEmpty(t *testing.T) {
	var nilProfile *UserProfile
	p, ok := nilProfile.Advertiser("bmw")
	assert.False(t, ok)
	assert.True(t, p.IsEmpty())

	u := NewUserProfile("v1")
	p, ok = u.Advertiser("bmw")
	assert.False(t, ok)
	assert.True(t, p.IsEmpty())
}

func TestAdvertiserProfile_ImpressionsStayDescending(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	u := NewUserProfile("v1")
	u.RecordImpression("bmw", EventRecord{Timestamp: base, AdUnitID: "a"})
	u.RecordImpression("bmw", EventRecord{Timestamp: base.Add(2 * time.Hour), AdUnitID: "c"})
	u.RecordImpression("bmw", EventRecord{Timestamp: base.Add(time.Hour), AdUnitID: "b"})

	p, ok := u.Advertiser("bmw")
	assert.True(t, ok)
	var units []string
	for _, ev := range p.Impressions {
		units = append(units, ev.AdUnitID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, units)
}
