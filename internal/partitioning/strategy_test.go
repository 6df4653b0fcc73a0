package partitioning

import (
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adselect/internal/models"
)

func TestZoneRoutingKey_RoundTrip(t *testing.T) {
	s := NewStrategy(8)
	for _, k := range []models.ZoneKey{
		{SiteID: "news.example.com", ZoneID: "top"},
		{SiteID: "odd|site", ZoneID: "{zone}"},
		{SiteID: "spaces here", ZoneID: "a/b"},
	} {
		key := s.ZoneRoutingKey(k)
		back, err := s.ZoneFromRoutingKey(key)
		require.NoError(t, err)
		assert.Equal(t, k, back)
	}
}

func TestRoutingKeys_SingleHashTag(t *testing.T) {
	s := NewStrategy(8)
	key := s.ZoneRoutingKey(models.ZoneKey{SiteID: "{evil}", ZoneID: "}x{"})
	// exactly one opening and one closing brace: the hash tag
	assert.Equal(t, 1, countRune(key, '{'))
	assert.Equal(t, 1, countRune(key, '}'))
	assert.Equal(t, "profile:{u%7B1%7D}", s.ProfileRoutingKey("u{1}"))
	assert.Equal(t, "campaign-zones:{bmw|c1}", s.CampaignIndexKey(models.CampaignID{AdvertiserID: "bmw", Suffix: "c1"}))
}

func TestPartitionOf_StableAndInRange(t *testing.T) {
	s := NewStrategy(4)
	k := models.ZoneKey{SiteID: "s1", ZoneID: "z1"}
	p := s.ZonePartition(k)
	assert.Equal(t, p, s.ZonePartition(k))
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, 4)

	// zero-value strategy still routes
	assert.Less(t, Strategy{}.ZonePartition(k), DefaultPartitions)
}

func TestGroupZones(t *testing.T) {
	s := NewStrategy(3)
	var zones []models.ZoneKey
	for _, z := range []string{"a", "b", "c", "d", "e", "f"} {
		zones = append(zones, models.ZoneKey{SiteID: "s", ZoneID: z})
	}
	groups := s.GroupZones(zones)
	total := 0
	for p, g := range groups {
		for _, z := range g {
			assert.Equal(t, p, s.ZonePartition(z))
		}
		total += len(g)
	}
	assert.Equal(t, len(zones), total)
}

func TestZoneFromRoutingKey_Rejects(t *testing.T) {
	s := NewStrategy(1)
	_, err := s.ZoneFromRoutingKey("profile:{x}")
	assert.Error(t, err)
	_, err = s.ZoneFromRoutingKey("zone:{nopipe}")
	assert.Error(t, err)
}

func countRune(s string, r rune) int {
	n := 0
	for _, c := range s {
		if c == r {
			n++
		}
	}
	return n
}

func TestProfileKeyPattern_MatchesProfileKeys(t *testing.T) {
	s := NewStrategy(4)
	ok, err := path.Match(s.ProfileKeyPattern(), s.ProfileRoutingKey("user-1"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = path.Match(s.ProfileKeyPattern(), s.ZoneRoutingKey(models.ZoneKey{SiteID: "a", ZoneID: "b"}))
	assert.False(t, ok)
}
