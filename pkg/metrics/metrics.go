package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	MemoriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memorypalace_memories_total",
			Help: "Total number of memories by deprecated status",
		},
		[]string{"deprecated"},
	)

	PathsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memorypalace_paths_total",
			Help: "Total number of paths (aliases included)",
		},
	)

	// Write Guard metrics
	GuardDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorypalace_guard_decisions_total",
			Help: "Total Write Guard verdicts by action and method",
		},
		[]string{"action", "method"},
	)

	GuardDecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memorypalace_guard_decision_duration_seconds",
			Help:    "Time taken by the Write Guard to reach a verdict",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Write Lane metrics
	LaneWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memorypalace_lane_wait_duration_seconds",
			Help:    "Time a write spent waiting for lane admission",
			Buckets: prometheus.DefBuckets,
		},
	)

	LaneInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memorypalace_lane_in_flight",
			Help: "Writes currently admitted to the Write Lane",
		},
	)

	LaneTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memorypalace_lane_timeouts_total",
			Help: "Total writes that exceeded LANE_WAIT_TIMEOUT",
		},
	)

	// Index Worker metrics
	IndexQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memorypalace_index_queue_depth",
			Help: "Current depth of the index job queue",
		},
	)

	IndexJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorypalace_index_jobs_total",
			Help: "Total index jobs by task type and terminal state",
		},
		[]string{"task_type", "state"},
	)

	IndexJobsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memorypalace_index_jobs_dropped_total",
			Help: "Total index jobs dropped because the queue was full",
		},
	)

	IndexJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memorypalace_index_job_duration_seconds",
			Help:    "Index job execution duration by task type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	// Retrieval Pipeline metrics
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorypalace_search_requests_total",
			Help: "Total search_memory requests by mode requested and applied",
		},
		[]string{"mode_requested", "mode_applied"},
	)

	SearchDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorypalace_search_degraded_total",
			Help: "Total search_memory requests that degraded, by reason",
		},
		[]string{"reason"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memorypalace_search_duration_seconds",
			Help:    "search_memory end-to-end latency by strategy template",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy_template"},
	)

	// Governance Loop metrics
	VitalityDecayTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memorypalace_vitality_decay_ticks_total",
			Help: "Total vitality decay cycles completed",
		},
	)

	CleanupOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorypalace_cleanup_outcomes_total",
			Help: "Total cleanup review confirm outcomes by result",
		},
		[]string{"result"},
	)

	PendingReviews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memorypalace_pending_reviews",
			Help: "Number of cleanup reviews currently pending confirmation",
		},
	)

	// External adapter metrics
	ExternalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorypalace_external_requests_total",
			Help: "Total remote adapter calls by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)

	ExternalRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memorypalace_external_request_duration_seconds",
			Help:    "Remote adapter call duration by adapter",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)

	// HTTP control plane metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorypalace_api_requests_total",
			Help: "Total HTTP control plane requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memorypalace_api_request_duration_seconds",
			Help:    "HTTP control plane request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(MemoriesTotal)
	prometheus.MustRegister(PathsTotal)
	prometheus.MustRegister(GuardDecisionsTotal)
	prometheus.MustRegister(GuardDecisionDuration)
	prometheus.MustRegister(LaneWaitDuration)
	prometheus.MustRegister(LaneInFlight)
	prometheus.MustRegister(LaneTimeoutsTotal)
	prometheus.MustRegister(IndexQueueDepth)
	prometheus.MustRegister(IndexJobsTotal)
	prometheus.MustRegister(IndexJobsDroppedTotal)
	prometheus.MustRegister(IndexJobDuration)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDegradedTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(VitalityDecayTicksTotal)
	prometheus.MustRegister(CleanupOutcomesTotal)
	prometheus.MustRegister(PendingReviews)
	prometheus.MustRegister(ExternalRequestsTotal)
	prometheus.MustRegister(ExternalRequestDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
