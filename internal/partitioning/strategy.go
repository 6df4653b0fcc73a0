// Package partitioning defines how inventory and visitor records are routed to
// partitions. Every lookup the ad selector performs is keyed so that it lands
// on exactly one partition:
//
//   - zone inventory is partitioned on the composite (site_id, zone_id) key
//   - visitor profiles are partitioned on user_id
//   - a secondary index on campaign id lists the zones holding that campaign,
//     so campaign removal does not need a scan of every zone
//
// Redis keys embed the partition key in a hash tag ("{...}"), which is what
// Redis Cluster hashes to pick a slot. The same routing keys feed PartitionOf,
// used to group scatter-gather work.
package partitioning

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/patrickwarner/adselect/internal/models"
)

// DefaultPartitions is the partition count used when none is configured.
const DefaultPartitions = 16

const (
	zonePrefix          = "zone:"
	profilePrefix       = "profile:"
	campaignIndexPrefix = "campaign-zones:"
)

// Strategy maps records to partitions.
type Strategy struct {
	Partitions int
}

// NewStrategy returns a Strategy with n partitions. Non-positive values fall
// back to DefaultPartitions.
func NewStrategy(n int) Strategy {
	if n <= 0 {
		n = DefaultPartitions
	}
	return Strategy{Partitions: n}
}

func (s Strategy) partitions() int {
	if s.Partitions <= 0 {
		return DefaultPartitions
	}
	return s.Partitions
}

// escape keeps ids from introducing hash-tag braces or the key separator.
func escape(s string) string {
	return url.QueryEscape(s)
}

// ZonePartitionKey is the composite partition key of a zone.
func ZonePartitionKey(k models.ZoneKey) string {
	return escape(k.SiteID) + "|" + escape(k.ZoneID)
}

// ZoneRoutingKey is the storage key of a zone record.
func (s Strategy) ZoneRoutingKey(k models.ZoneKey) string {
	return zonePrefix + "{" + ZonePartitionKey(k) + "}"
}

// ProfileRoutingKey is the storage key of a visitor profile.
func (s Strategy) ProfileRoutingKey(userID string) string {
	return profilePrefix + "{" + escape(userID) + "}"
}

// ProfileKeyPattern matches every profile key, for SCAN.
func (s Strategy) ProfileKeyPattern() string {
	return profilePrefix + "*"
}

// CampaignIndexKey is the storage key of the campaign's zone index.
func (s Strategy) CampaignIndexKey(id models.CampaignID) string {
	return campaignIndexPrefix + "{" + escape(id.AdvertiserID) + "|" + escape(id.Suffix) + "}"
}

// ZoneFromRoutingKey reverses ZoneRoutingKey.
func (s Strategy) ZoneFromRoutingKey(key string) (models.ZoneKey, error) {
	inner, ok := strings.CutPrefix(key, zonePrefix+"{")
	if !ok || !strings.HasSuffix(inner, "}") {
		return models.ZoneKey{}, fmt.Errorf("not a zone routing key: %q", key)
	}
	inner = strings.TrimSuffix(inner, "}")
	site, zone, ok := strings.Cut(inner, "|")
	if !ok {
		return models.ZoneKey{}, fmt.Errorf("not a zone routing key: %q", key)
	}
	siteID, err := url.QueryUnescape(site)
	if err != nil {
		return models.ZoneKey{}, fmt.Errorf("decode site in %q: %w", key, err)
	}
	zoneID, err := url.QueryUnescape(zone)
	if err != nil {
		return models.ZoneKey{}, fmt.Errorf("decode zone in %q: %w", key, err)
	}
	return models.ZoneKey{SiteID: siteID, ZoneID: zoneID}, nil
}

// PartitionOf returns the partition index owning the given partition key.
func (s Strategy) PartitionOf(partitionKey string) int {
	return int(xxhash.Sum64String(partitionKey) % uint64(s.partitions()))
}

// ZonePartition returns the partition index of a zone.
func (s Strategy) ZonePartition(k models.ZoneKey) int {
	return s.PartitionOf(ZonePartitionKey(k))
}

// GroupZones buckets zones by owning partition so scatter-gather work can run
// one worker per partition.
func (s Strategy) GroupZones(zones []models.ZoneKey) map[int][]models.ZoneKey {
	groups := make(map[int][]models.ZoneKey)
	for _, z := range zones {
		p := s.ZonePartition(z)
		groups[p] = append(groups[p], z)
	}
	return groups
}
