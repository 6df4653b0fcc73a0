package logic

import (
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/patrickwarner/adselect/internal/models"
)

// RandomSource permutes equally valued entries. Implementations must be safe
// for concurrent use.
type RandomSource interface {
	Shuffle(n int, swap func(i, j int))
}

type globalSource struct{}

func (globalSource) Shuffle(n int, swap func(i, j int)) {
	rand.Shuffle(n, swap)
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *seededSource) Shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(n, swap)
}

// NewRandomSource returns a reproducible source for a non-zero seed. Seed 0
// returns the process-wide generator.
func NewRandomSource(seed uint64) RandomSource {
	if seed == 0 {
		return globalSource{}
	}
	return &seededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Bucket holds the entries sharing one ranking value.
type Bucket struct {
	Value   float64
	Entries []models.AdEntry
}

// GroupByValue buckets entries by value and returns the buckets in descending
// value order. Entries keep their input order inside a bucket.
func GroupByValue(entries []models.AdEntry, value func(models.AdEntry) float64) []Bucket {
	byValue := make(map[float64]*Bucket)
	for _, e := range entries {
		v := value(e)
		b, ok := byValue[v]
		if !ok {
			b = &Bucket{Value: v}
			byValue[v] = b
		}
		b.Entries = append(b.Entries, e)
	}
	buckets := make([]Bucket, 0, len(byValue))
	for _, b := range byValue {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Value > buckets[j].Value })
	return buckets
}

// Order returns the entries ranked by descending value with every bucket of
// ties randomly permuted.
//
// Grouping and shuffling are done on every call. For zones holding very large
// inventories this cost lands on the request path; a cache of pre-bucketed
// zones would remove it.
func Order(entries []models.AdEntry, value func(models.AdEntry) float64, rng RandomSource) []models.AdEntry {
	if rng == nil {
		rng = globalSource{}
	}
	ordered := make([]models.AdEntry, 0, len(entries))
	for _, b := range GroupByValue(entries, value) {
		if len(b.Entries) > 1 {
			rng.Shuffle(len(b.Entries), func(i, j int) {
				b.Entries[i], b.Entries[j] = b.Entries[j], b.Entries[i]
			})
		}
		ordered = append(ordered, b.Entries...)
	}
	return ordered
}

// ByBid ranks entries on their bid alone.
func ByBid(e models.AdEntry) float64 {
	return e.Bid
}
