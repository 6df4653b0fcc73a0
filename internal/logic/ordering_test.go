package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adselect/internal/models"
)

func entry(unit string, bid float64) models.AdEntry {
	return models.AdEntry{CampaignID: models.CampaignID{AdvertiserID: "adv-" + unit, Suffix: "c"}, AdUnitID: unit, Bid: bid}
}

func units(entries []models.AdEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.AdUnitID
	}
	return out
}

func TestGroupByValue(t *testing.T) {
	buckets := GroupByValue([]models.AdEntry{
		entry("c", 200), entry("a", 250), entry("d", 100), entry("b", 250),
	}, ByBid)

	require.Len(t, buckets, 3)
	assert.Equal(t, 250.0, buckets[0].Value)
	assert.Equal(t, []string{"a", "b"}, units(buckets[0].Entries))
	assert.Equal(t, 200.0, buckets[1].Value)
	assert.Equal(t, 100.0, buckets[2].Value)
	assert.Empty(t, GroupByValue(nil, ByBid))
}

func TestOrderKeepsBucketsDescending(t *testing.T) {
	entries := []models.AdEntry{entry("c", 200), entry("a", 250), entry("d", 0), entry("b", 250), entry("e", 200)}
	for i := 0; i < 50; i++ {
		ordered := Order(entries, ByBid, NewRandomSource(uint64(i+1)))
		require.Len(t, ordered, len(entries))
		for j := 1; j < len(ordered); j++ {
			assert.GreaterOrEqual(t, ordered[j-1].Bid, ordered[j].Bid)
		}
		assert.ElementsMatch(t, []string{"a", "b"}, units(ordered[:2]))
		assert.Equal(t, "d", ordered[4].AdUnitID)
	}
	assert.Equal(t, []string{"c", "a", "d", "b", "e"}, units(entries), "input must not be reordered")
}

func TestOrderSeededIsReproducible(t *testing.T) {
	entries := []models.AdEntry{entry("a", 5), entry("b", 5), entry("c", 5), entry("d", 5), entry("e", 5)}
	first := units(Order(entries, ByBid, NewRandomSource(42)))
	second := units(Order(entries, ByBid, NewRandomSource(42)))
	assert.Equal(t, first, second)
}

func TestOrderTieBreakIsUniform(t *testing.T) {
	entries := []models.AdEntry{entry("a", 9), entry("b", 9), entry("c", 9)}
	rng := NewRandomSource(7)
	const trials = 30000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		counts[Order(entries, ByBid, rng)[0].AdUnitID]++
	}
	for _, u := range []string{"a", "b", "c"} {
		assert.InDelta(t, trials/3, counts[u], trials*0.03, "unit %s", u)
	}
}

func TestUnseededSourceShuffles(t *testing.T) {
	rng := NewRandomSource(0)
	entries := []models.AdEntry{entry("a", 1), entry("b", 1)}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[Order(entries, ByBid, rng)[0].AdUnitID] = true
	}
	assert.Len(t, seen, 2)
}
