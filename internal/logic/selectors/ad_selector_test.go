package selectors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adselect/internal/db"
	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/models"
)

func TestChooseAd_MissingAndEmptyZones(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	ctx := context.Background()
	putZone(t, store, "s1", "empty")
	selector, metrics := newTestSelector(store, 1)

	for _, zone := range []string{"missing", "empty"} {
		for _, user := range []string{"", "v1"} {
			ad, err := selector.ChooseAd(ctx, models.AdRequest{SiteID: "s1", ZoneID: zone, UserID: user})
			require.NoError(t, err)
			assert.Nil(t, ad)

			seq, err := selector.ChooseAds(ctx, models.AdRequest{SiteID: "s1", ZoneID: zone, UserID: user})
			require.NoError(t, err)
			for range seq {
				t.Fatal("expected no entries")
			}
		}
	}
	assert.Equal(t, 4, metrics.Outcome(modeSingle, "empty"))
}

func TestChooseAd_RequiresZone(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	selector, _ := newTestSelector(store, 1)

	_, err := selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1"})
	assert.ErrorIs(t, err, logic.ErrMissingZone)
}

// Two entries tied at the top bid split the traffic; the lower bid never wins.
func TestChooseAd_TiedBidsSplitEvenly(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	putZone(t, store, "s1", "z1",
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250},
		models.AdEntry{CampaignID: campaign("audi", "c1"), AdUnitID: "B", Bid: 250},
		models.AdEntry{CampaignID: campaign("vw", "c1"), AdUnitID: "C", Bid: 200},
	)
	selector, _ := newTestSelector(store, 99)

	const trials = 2000
	counts := map[string]int{}
	for i := 0; i < trials; i++ {
		ad, err := selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1"})
		require.NoError(t, err)
		require.NotNil(t, ad)
		counts[ad.AdUnitID]++
	}
	assert.Zero(t, counts["C"])
	assert.InDelta(t, trials/2, counts["A"], trials*0.06)
	assert.InDelta(t, trials/2, counts["B"], trials*0.06)
}

func TestChooseAd_FrequencyCapSkipsRecentImpression(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	ctx := context.Background()
	putZone(t, store, "s1", "z1",
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250},
		models.AdEntry{CampaignID: campaign("audi", "c1"), AdUnitID: "B", Bid: 200},
	)
	require.NoError(t, store.RecordImpression(ctx, "v1", "bmw", models.EventRecord{
		Timestamp: time.Now().Add(-time.Hour), AdUnitID: "A", SiteID: "s1", ZoneID: "z1",
	}))
	selector, metrics := newTestSelector(store, 3)

	for i := 0; i < 20; i++ {
		ad, err := selector.ChooseAd(ctx, models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
		require.NoError(t, err)
		require.NotNil(t, ad)
		assert.Equal(t, "B", ad.AdUnitID)
	}
	assert.Equal(t, 20, metrics.FrequencyRejections)

	// another visitor and the anonymous path still get the top bid
	for _, user := range []string{"v2", ""} {
		ad, err := selector.ChooseAd(ctx, models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: user})
		require.NoError(t, err)
		assert.Equal(t, "A", ad.AdUnitID)
	}
}

func TestChooseAd_AllCapped(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	ctx := context.Background()
	putZone(t, store, "s1", "z1", models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250})
	require.NoError(t, store.RecordImpression(ctx, "v1", "bmw", models.EventRecord{Timestamp: time.Now(), AdUnitID: "A"}))
	selector, metrics := newTestSelector(store, 3)

	ad, err := selector.ChooseAd(ctx, models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
	require.NoError(t, err)
	assert.Nil(t, ad)
	assert.Equal(t, 1, metrics.Outcome(modeSingle, "capped"))
}

func TestChooseAd_ProfileTimeoutDegrades(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	putZone(t, store, "s1", "z1", models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250})

	selector, metrics := newTestSelector(store, 1)
	selector.profiles = blockingProfiles{}
	selector.SetTimeouts(time.Second, 5*time.Millisecond)

	ad, err := selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
	require.NoError(t, err)
	require.NotNil(t, ad)
	assert.Equal(t, "A", ad.AdUnitID)
	assert.Equal(t, 1, metrics.ProfileDegradations)
}

func TestChooseAd_ProfileFailurePropagates(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	putZone(t, store, "s1", "z1", models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250})

	selector, metrics := newTestSelector(store, 1)
	selector.profiles = failingProfiles{err: errors.New("connection refused")}

	ad, err := selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
	assert.Nil(t, ad)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Zero(t, metrics.ProfileDegradations)

	// no visitor means no profile call at all
	ad, err = selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1"})
	require.NoError(t, err)
	assert.NotNil(t, ad)
}

func TestChooseAd_OpenProfileBreakerDegrades(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	putZone(t, store, "s1", "z1",
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250},
		models.AdEntry{CampaignID: campaign("audi", "c2"), AdUnitID: "B", Bid: 100},
	)

	profiles := db.NewProfileBreaker(slowProfiles{}, db.BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute})
	selector, metrics := newTestSelector(store, 1)
	selector.profiles = profiles
	selector.SetTimeouts(time.Second, 5*time.Millisecond)

	for i := 0; i < 6; i++ {
		ad, err := selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
		require.NoError(t, err, "request %d", i)
		require.NotNil(t, ad, "request %d", i)
		assert.Equal(t, "A", ad.AdUnitID)
	}
	assert.Equal(t, gobreaker.StateOpen, profiles.State())
	assert.Equal(t, 6, metrics.ProfileDegradations)
	assert.Equal(t, 3, metrics.StoreCalls["profile/circuit_open"])

	seq, err := selector.ChooseAds(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
	require.NoError(t, err)
	var units []string
	for e := range seq {
		units = append(units, e.AdUnitID)
	}
	assert.Equal(t, []string{"A", "B"}, units)
}

func TestChooseAd_ProfileConnectionErrorsFailUntilCircuitOpens(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	putZone(t, store, "s1", "z1", models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250})

	down := failingProfiles{err: fmt.Errorf("get profile: %w: connection refused", models.ErrStoreUnavailable)}
	profiles := db.NewProfileBreaker(down, db.BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	selector, metrics := newTestSelector(store, 1)
	selector.profiles = profiles

	req := models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"}
	for i := 0; i < 2; i++ {
		ad, err := selector.ChooseAd(context.Background(), req)
		assert.Nil(t, ad)
		assert.ErrorIs(t, err, models.ErrStoreUnavailable)
		assert.NotErrorIs(t, err, models.ErrCircuitOpen)
	}
	assert.Zero(t, metrics.ProfileDegradations)

	// the store is no longer contacted, so the request is served untargeted
	ad, err := selector.ChooseAd(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, ad)
	assert.Equal(t, 1, metrics.ProfileDegradations)
}

func TestChooseAd_StoreDown(t *testing.T) {
	ms, store := setupTestRedis(t)
	selector, _ := newTestSelector(store, 1)
	ms.Close()

	ad, err := selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1"})
	assert.Nil(t, ad)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	_, err = selector.ChooseAds(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1"})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestChooseAd_MalformedCampaignID(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	key := store.Strategy.ZoneRoutingKey(models.ZoneKey{SiteID: "s1", ZoneID: "z1"})
	require.NoError(t, ms.Set(key, `{"entries":[{"campaign_id":"bmwc1","ad_unit_id":"A","bid":250}]}`))
	selector, _ := newTestSelector(store, 1)

	ad, err := selector.ChooseAd(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1"})
	assert.Nil(t, ad)
	assert.ErrorIs(t, err, models.ErrMalformedCampaignID)
	assert.False(t, errors.Is(err, models.ErrStoreUnavailable))
}

func TestChooseAdWithTrace(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	putZone(t, store, "s1", "z1",
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250},
		models.AdEntry{CampaignID: campaign("audi", "c1"), AdUnitID: "B", Bid: 200},
	)
	selector, _ := newTestSelector(store, 1)

	var trace logic.SelectionTrace
	ad, err := selector.ChooseAdWithTrace(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1"}, &trace)
	require.NoError(t, err)
	require.NotNil(t, ad)
	require.Len(t, trace.Steps, 3)
	assert.Equal(t, "candidates", trace.Steps[0].Stage)
	assert.ElementsMatch(t, []string{"bmw:c1", "audi:c1"}, trace.Steps[0].Campaigns)
	assert.Equal(t, []string{"A", "B"}, trace.Steps[1].AdUnitIDs)
	assert.Equal(t, []string{"A"}, trace.Steps[2].AdUnitIDs)
	assert.Equal(t, "0", trace.Steps[2].Details["frequency_rejected"])
}

func TestChooseAds_RanksByKeywordScore(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	putZone(t, store, "s1", "z1",
		models.AdEntry{CampaignID: campaign("vw", "c1"), AdUnitID: "plain", Bid: 260},
		models.AdEntry{CampaignID: campaign("audi", "c1"), AdUnitID: "entry2", Bid: 200, Keywords: []string{"car", "performance"}},
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "entry1", Bid: 250, Keywords: []string{"car", "luxury", "style"}},
		models.AdEntry{CampaignID: campaign("kia", "c1"), AdUnitID: "tie1", Bid: 10},
		models.AdEntry{CampaignID: campaign("kia", "c2"), AdUnitID: "tie2", Bid: 10},
	)
	selector, _ := newTestSelector(store, 5)
	keywords := logic.NewKeywordSet([]string{"Car", "luxury"})

	seq, err := selector.ChooseAds(context.Background(), models.AdRequest{SiteID: "s1", ZoneID: "z1", Keywords: []string{"Car", "luxury"}})
	require.NoError(t, err)
	var got []models.AdEntry
	for e := range seq {
		got = append(got, e)
	}
	require.Len(t, got, 5)
	assert.Equal(t, "entry1", got[0].AdUnitID)
	assert.Equal(t, "entry2", got[1].AdUnitID)
	assert.Equal(t, "plain", got[2].AdUnitID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, logic.Score(got[i-1], keywords), logic.Score(got[i], keywords))
	}
}

func TestChooseAds_LazyAndSingleUse(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	ctx := context.Background()
	putZone(t, store, "s1", "z1",
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "A", Bid: 250},
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "B", Bid: 200},
		models.AdEntry{CampaignID: campaign("bmw", "c1"), AdUnitID: "C", Bid: 100},
	)
	// B and C are capped for v1; stopping after A must never evaluate them
	for _, unit := range []string{"B", "C"} {
		require.NoError(t, store.RecordImpression(ctx, "v1", "bmw", models.EventRecord{Timestamp: time.Now(), AdUnitID: unit}))
	}
	selector, metrics := newTestSelector(store, 1)

	seq, err := selector.ChooseAds(ctx, models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
	require.NoError(t, err)
	for e := range seq {
		assert.Equal(t, "A", e.AdUnitID)
		break
	}
	assert.Zero(t, metrics.FrequencyRejections)

	for range seq {
		t.Fatal("sequence must not restart")
	}

	seq, err = selector.ChooseAds(ctx, models.AdRequest{SiteID: "s1", ZoneID: "z1", UserID: "v1"})
	require.NoError(t, err)
	var units []string
	for e := range seq {
		units = append(units, e.AdUnitID)
	}
	assert.Equal(t, []string{"A"}, units)
	assert.Equal(t, 2, metrics.FrequencyRejections)
}

func TestChooseAd_AfterCampaignRemoval(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()
	ctx := context.Background()
	bmw := campaign("bmw", "c1")
	for _, zone := range []string{"z1", "z2", "z3"} {
		putZone(t, store, "s1", zone,
			models.AdEntry{CampaignID: bmw, AdUnitID: "bmw-1", Bid: 500},
			models.AdEntry{CampaignID: campaign("audi", "c1"), AdUnitID: "audi-1", Bid: 100},
		)
	}
	_, err := store.RemoveCampaignAds(ctx, bmw)
	require.NoError(t, err)

	selector, _ := newTestSelector(store, 1)
	for _, zone := range []string{"z1", "z2", "z3"} {
		for i := 0; i < 10; i++ {
			ad, err := selector.ChooseAd(ctx, models.AdRequest{SiteID: "s1", ZoneID: zone})
			require.NoError(t, err)
			require.NotNil(t, ad)
			assert.NotEqual(t, bmw, ad.CampaignID)
		}
	}
}
