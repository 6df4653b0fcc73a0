package logic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/patrickwarner/adselect/internal/models"
)

func TestNewKeywordSet(t *testing.T) {
	set := NewKeywordSet([]string{" Car", "LUXURY ", "", "car"})
	assert.Len(t, set, 2)
	assert.Contains(t, set, "car")
	assert.Contains(t, set, "luxury")
}

func TestScore(t *testing.T) {
	keywords := NewKeywordSet([]string{"car", "luxury"})
	e1 := models.AdEntry{Bid: 250, Keywords: []string{"car", "luxury", "style"}}
	e2 := models.AdEntry{Bid: 200, Keywords: []string{"car", "performance"}}

	s1, s2 := Score(e1, keywords), Score(e2, keywords)
	assert.InDelta(t, 282.85, s1, 0.01)
	assert.InDelta(t, 148.39, s2, 0.01)
	assert.Greater(t, s1, s2)

	noOverlap := Score(models.AdEntry{Bid: 100}, keywords)
	assert.InDelta(t, 100*math.Log(1.1), noOverlap, 1e-9)
	assert.Greater(t, noOverlap, 0.0)

	assert.Zero(t, Score(models.AdEntry{Bid: 0, Keywords: []string{"car"}}, keywords))
}

func TestScoreCountsDistinctMatches(t *testing.T) {
	keywords := NewKeywordSet([]string{"car"})
	dup := models.AdEntry{Bid: 10, Keywords: []string{"car", "CAR", " car"}}
	assert.InDelta(t, 10*math.Log(2.1), Score(dup, keywords), 1e-9)
}

func TestOrderByScore(t *testing.T) {
	keywords := NewKeywordSet([]string{"car", "luxury"})
	entries := []models.AdEntry{
		{CampaignID: models.CampaignID{AdvertiserID: "a", Suffix: "1"}, AdUnitID: "plain", Bid: 250},
		{CampaignID: models.CampaignID{AdvertiserID: "b", Suffix: "1"}, AdUnitID: "match", Bid: 200, Keywords: []string{"car"}},
	}
	ordered := Order(entries, ScoreFunc(keywords), NewRandomSource(1))
	assert.Equal(t, "match", ordered[0].AdUnitID)
}
