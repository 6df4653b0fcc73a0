package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/patrickwarner/adselect/internal/models"
)

// bidLevels is kept short so zones contain ties that exercise shuffling.
var bidLevels = []float64{50, 100, 150, 200, 250, 300}

var keywordPool = []string{
	"car", "luxury", "suv", "electric", "sport", "family",
	"travel", "finance", "insurance", "news", "weather", "outdoor",
}

var advertiserNames = []string{
	"bmw", "audi", "volvo", "tesla", "ford", "kia", "mazda", "seat",
}

var zoneNames = []string{"header", "sidebar", "footer", "inline", "interstitial"}

// generator builds deterministic fake inventory and visitor histories from a
// seed.
type generator struct {
	r *rand.Rand
}

func newGenerator(seed uint64) *generator {
	return &generator{r: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// campaigns returns perAdv campaigns for each of the first n advertisers.
func (g *generator) campaigns(n, perAdv int) []models.CampaignID {
	if n > len(advertiserNames) {
		n = len(advertiserNames)
	}
	out := make([]models.CampaignID, 0, n*perAdv)
	for _, adv := range advertiserNames[:n] {
		for c := 1; c <= perAdv; c++ {
			out = append(out, models.CampaignID{AdvertiserID: adv, Suffix: fmt.Sprintf("c%d", c)})
		}
	}
	return out
}

// zones builds one record per site/zone pair, each holding entriesPer ads
// drawn from the given campaigns.
func (g *generator) zones(sites, zonesPer, entriesPer int, campaigns []models.CampaignID) []models.ZoneRecord {
	if zonesPer > len(zoneNames) {
		zonesPer = len(zoneNames)
	}
	var out []models.ZoneRecord
	for s := 0; s < sites; s++ {
		site := "demo.example.com"
		if s > 0 {
			site = fmt.Sprintf("site%d.example.com", s)
		}
		for _, zone := range zoneNames[:zonesPer] {
			z := models.ZoneRecord{SiteID: site, ZoneID: zone}
			for i := 0; i < entriesPer && len(campaigns) > 0; i++ {
				z.Entries = append(z.Entries, g.entry(campaigns[g.r.IntN(len(campaigns))]))
			}
			out = append(out, z)
		}
	}
	return out
}

func (g *generator) entry(id models.CampaignID) models.AdEntry {
	e := models.AdEntry{
		CampaignID: id,
		AdUnitID:   fmt.Sprintf("%s-%s-u%d", id.AdvertiserID, id.Suffix, g.r.IntN(4)+1),
		Bid:        bidLevels[g.r.IntN(len(bidLevels))],
	}
	for k := g.r.IntN(4); k > 0; k-- {
		e.Keywords = append(e.Keywords, keywordPool[g.r.IntN(len(keywordPool))])
	}
	return e
}

// profiles builds visitor histories with impressions spread over the last
// two frequency windows, so some are capped and some are stale.
func (g *generator) profiles(users, impressionsPer int, zones []models.ZoneRecord, now time.Time, window time.Duration) []*models.UserProfile {
	var out []*models.UserProfile
	for u := 0; u < users; u++ {
		p := models.NewUserProfile(fmt.Sprintf("user%d", u))
		for i := 0; i < impressionsPer && len(zones) > 0; i++ {
			z := zones[g.r.IntN(len(zones))]
			if len(z.Entries) == 0 {
				continue
			}
			e := z.Entries[g.r.IntN(len(z.Entries))]
			age := time.Duration(g.r.Int64N(int64(2 * window)))
			p.RecordImpression(e.AdvertiserID(), models.EventRecord{
				Timestamp: now.Add(-age),
				AdUnitID:  e.AdUnitID,
				SiteID:    z.SiteID,
				ZoneID:    z.ZoneID,
			})
		}
		out = append(out, p)
	}
	return out
}
