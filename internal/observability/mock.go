package observability

import (
	"sync"
	"time"
)

// CountingRegistry is a MetricsRegistry for tests. It counts calls so tests
// can assert on what a component reported.
type CountingRegistry struct {
	mu                  sync.Mutex
	Requests            map[string]int // keyed by "endpoint method status"
	NoAds               int
	Outcomes            map[string]int // keyed by "mode/outcome"
	FrequencyRejections int
	ProfileDegradations int
	StoreCalls          map[string]int // keyed by "store/outcome"
	Deactivations       map[string]int
	Removed             int
}

// NewCountingRegistry returns an empty CountingRegistry.
func NewCountingRegistry() *CountingRegistry {
	return &CountingRegistry{
		Requests:      make(map[string]int),
		Outcomes:      make(map[string]int),
		StoreCalls:    make(map[string]int),
		Deactivations: make(map[string]int),
	}
}

func (m *CountingRegistry) IncrementRequests(endpoint, method, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests[endpoint+" "+method+" "+status]++
}

func (m *CountingRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *CountingRegistry) IncrementNoAds() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NoAds++
}

func (m *CountingRegistry) IncrementSelectionOutcome(mode, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes[mode+"/"+outcome]++
}

func (m *CountingRegistry) RecordCandidateCount(n int) {}

func (m *CountingRegistry) IncrementFrequencyCapRejections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FrequencyRejections++
}

func (m *CountingRegistry) IncrementProfileDegradations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileDegradations++
}

func (m *CountingRegistry) RecordStoreLatency(store, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreCalls[store+"/"+outcome]++
}

func (m *CountingRegistry) IncrementDeactivationAttempts(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deactivations[outcome]++
}

func (m *CountingRegistry) AddEntriesRemoved(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removed += n
}

// Outcome returns the count recorded for mode/outcome.
func (m *CountingRegistry) Outcome(mode, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Outcomes[mode+"/"+outcome]
}
