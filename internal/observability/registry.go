package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// so components do not reach for the global Prometheus collectors directly.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Selection metrics
	IncrementNoAds()
	IncrementSelectionOutcome(mode, outcome string)
	RecordCandidateCount(n int)
	IncrementFrequencyCapRejections()
	IncrementProfileDegradations()

	// Store metrics
	RecordStoreLatency(store, outcome string, duration time.Duration)

	// Lifecycle metrics
	IncrementDeactivationAttempts(outcome string)
	AddEntriesRemoved(n int)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Selection metrics
func (r *PrometheusRegistry) IncrementNoAds() {
	NoAdCount.Inc()
}

func (r *PrometheusRegistry) IncrementSelectionOutcome(mode, outcome string) {
	SelectionOutcomes.WithLabelValues(mode, outcome).Inc()
}

func (r *PrometheusRegistry) RecordCandidateCount(n int) {
	CandidateCount.Observe(float64(n))
}

func (r *PrometheusRegistry) IncrementFrequencyCapRejections() {
	FrequencyCapRejections.Inc()
}

func (r *PrometheusRegistry) IncrementProfileDegradations() {
	ProfileDegradations.Inc()
}

// Store metrics
func (r *PrometheusRegistry) RecordStoreLatency(store, outcome string, duration time.Duration) {
	StoreLatency.WithLabelValues(store, outcome).Observe(duration.Seconds())
}

// Lifecycle metrics
func (r *PrometheusRegistry) IncrementDeactivationAttempts(outcome string) {
	DeactivationAttempts.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) AddEntriesRemoved(n int) {
	EntriesRemoved.Add(float64(n))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementNoAds()                                                      {}
func (r *NoOpRegistry) IncrementSelectionOutcome(mode, outcome string)                       {}
func (r *NoOpRegistry) RecordCandidateCount(n int)                                           {}
func (r *NoOpRegistry) IncrementFrequencyCapRejections()                                     {}
func (r *NoOpRegistry) IncrementProfileDegradations()                                        {}
func (r *NoOpRegistry) RecordStoreLatency(store, outcome string, duration time.Duration)     {}
func (r *NoOpRegistry) IncrementDeactivationAttempts(outcome string)                         {}
func (r *NoOpRegistry) AddEntriesRemoved(n int)                                              {}
