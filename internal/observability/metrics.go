package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselect_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adselect_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// number of requests that returned no ad
	NoAdCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adselect_noad_total",
			Help: "Total selections that returned no ad",
		},
	)

	// selection outcomes: served, no_inventory, capped, error
	SelectionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselect_selection_outcomes_total",
			Help: "Selection results by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// latency of store calls by store and outcome
	StoreLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adselect_store_duration_seconds",
			Help:    "Duration of zone and profile store calls",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"store", "outcome"},
	)

	// entries skipped by the frequency cap
	FrequencyCapRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adselect_frequency_cap_rejections_total",
			Help: "Entries rejected by the per-ad-unit frequency cap",
		},
	)

	// profile fetches that timed out and fell back to untargeted selection
	ProfileDegradations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adselect_profile_degraded_total",
			Help: "Profile fetch timeouts served without targeting",
		},
	)

	// zone size at request time, bucketed
	CandidateCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adselect_zone_candidates",
			Help:    "Number of entries in the fetched zone",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// deactivation passes by outcome
	DeactivationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adselect_deactivation_attempts_total",
			Help: "Campaign removal passes by outcome",
		},
		[]string{"outcome"},
	)

	// entries removed by campaign deactivation
	EntriesRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adselect_campaign_entries_removed_total",
			Help: "Zone entries removed by campaign deactivation",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		NoAdCount,
		SelectionOutcomes,
		StoreLatency,
		FrequencyCapRejections,
		ProfileDegradations,
		CandidateCount,
		DeactivationAttempts,
		EntriesRemoved,
	)
}
