package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Allocation run outcomes used as the "outcome" label.
const (
	OutcomeSuccess         = "success"
	OutcomeLocked          = "locked"
	OutcomeLockUnavailable = "lock_unavailable"
	OutcomeReadError       = "read_error"
	OutcomeWriteError      = "write_error"
)

var knownOutcomes = map[string]struct{}{ //nolint:gochecknoglobals // fixed label set
	OutcomeSuccess:         {},
	OutcomeLocked:          {},
	OutcomeLockUnavailable: {},
	OutcomeReadError:       {},
	OutcomeWriteError:      {},
}

// Manager manages all Prometheus metrics for the synergy service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Allocation
	allocationRuns           *prometheus.CounterVec
	allocationDuration       prometheus.Histogram
	allocationCandidates     prometheus.Counter
	allocationSkipped        prometheus.Counter
	groupsAllocated          prometheus.Gauge
	groupsUnallocated        prometheus.Gauge
	projectSlotsRemaining    prometheus.Gauge
	allocationLastRunUnix    prometheus.Gauge
	allocationLockAttempts   *prometheus.CounterVec
	scheduledAllocationFires prometheus.Counter

	// Scoring
	individualScores  prometheus.Counter
	groupRatings      *prometheus.CounterVec
	unknownSkills     prometheus.Counter
	transcriptsParsed prometheus.Counter
	transcriptCourses prometheus.Counter
	scoringLatency    *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager. Without WithPrometheusRegistry
// the metrics are registered on prometheus.DefaultRegisterer.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "synergy",
		subsystem:        "allocator",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.allocationRuns = auto.NewCounterVec(
		m.counter("allocation_runs_total", "Allocation runs by outcome"),
		[]string{"outcome"},
	)
	m.allocationDuration = auto.NewHistogram(
		m.histogram("allocation_duration_milliseconds", "Wall time of a full allocation run in milliseconds", nil),
	)
	m.allocationCandidates = auto.NewCounter(
		m.counter("allocation_candidates_total", "Candidate (group, project) pairs scored by the engine"),
	)
	m.allocationSkipped = auto.NewCounter(
		m.counter("allocation_candidates_skipped_total", "Preferences skipped because the project does not exist"),
	)
	m.groupsAllocated = auto.NewGauge(
		m.gauge("groups_allocated", "Groups allocated by the last run"),
	)
	m.groupsUnallocated = auto.NewGauge(
		m.gauge("groups_unallocated", "Groups left unallocated by the last run"),
	)
	m.projectSlotsRemaining = auto.NewGauge(
		m.gauge("project_slots_remaining", "Slots left open after the last run"),
	)
	m.allocationLastRunUnix = auto.NewGauge(
		m.gauge("allocation_last_run_unix", "Unix timestamp of the last successful run"),
	)
	m.allocationLockAttempts = auto.NewCounterVec(
		m.counter("allocation_lock_attempts_total", "Run lock acquisition attempts by result"),
		[]string{"backend", "result"},
	)
	m.scheduledAllocationFires = auto.NewCounter(
		m.counter("allocation_scheduled_total", "Allocation runs triggered by the schedule"),
	)

	m.individualScores = auto.NewCounter(
		m.counter("individual_scores_total", "Individual skill scores computed"),
	)
	m.groupRatings = auto.NewCounterVec(
		m.counter("group_ratings_total", "Group ratings computed by eligibility"),
		[]string{"eligible"},
	)
	m.unknownSkills = auto.NewCounter(
		m.counter("unknown_skills_total", "Member score entries ignored because the skill name is unknown"),
	)
	m.transcriptsParsed = auto.NewCounter(
		m.counter("transcripts_parsed_total", "Transcripts parsed into course marks"),
	)
	m.transcriptCourses = auto.NewCounter(
		m.counter("transcript_courses_total", "Course lines extracted from transcripts"),
	)
	m.scoringLatency = auto.NewHistogramVec(
		m.histogram("scoring_latency_milliseconds", "Scoring latency in milliseconds by scorer", nil),
		[]string{"scorer"},
	)

	m.httpRequests = auto.NewCounterVec(
		m.counter("http_requests_total", "HTTP requests by endpoint, method and status"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogram("http_request_duration_milliseconds", "HTTP request duration in milliseconds", nil),
		[]string{"endpoint", "method", "status_code"},
	)

	m.storeLatency = auto.NewHistogramVec(
		m.histogram("store_latency_milliseconds", "Store operation latency in milliseconds", nil),
		[]string{"backend", "operation"},
	)
	m.storeErrors = auto.NewCounterVec(
		m.counter("store_errors_total", "Store operation failures"),
		[]string{"backend", "operation"},
	)

	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Pending group refresh events"))
	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counter("queue_enqueue_total", "Events enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counter("queue_dequeue_total", "Events dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counter("queue_enqueue_errors_total", "Enqueue failures"))

	m.workerCount = auto.NewGauge(m.gauge("worker_count", "Configured refresh workers"))
	m.workerActiveCount = auto.NewGauge(m.gauge("worker_active_count", "Workers currently processing an event"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", nil),
	)
	m.workerErrorRate = auto.NewCounter(m.counter("worker_errors_total", "Worker processing failures"))

	m.errorRateByComponent = auto.NewCounterVec(
		m.counter("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counter("errors_by_endpoint_total", "Errors by endpoint"),
		[]string{"endpoint", "method", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_usage_bytes", "Heap memory in use"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogram(
		"system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	))
}

// Allocation metrics.

// RecordAllocationRun counts a finished run. Outcome must be one of the
// Outcome* constants.
func RecordAllocationRun(outcome string) error {
	if _, ok := knownOutcomes[outcome]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}
	globalManager.allocationRuns.WithLabelValues(outcome).Inc()
	return nil
}

// RecordAllocationDuration records the wall time of a run.
func RecordAllocationDuration(latencyMs float64) {
	globalManager.allocationDuration.Observe(latencyMs)
}

// RecordAllocationCandidates adds to the scored and skipped candidate counters.
func RecordAllocationCandidates(scored, skipped int) {
	globalManager.allocationCandidates.Add(float64(scored))
	globalManager.allocationSkipped.Add(float64(skipped))
}

// UpdateAllocationPartition publishes the shape of the latest partition.
func UpdateAllocationPartition(allocated, unallocated, slotsRemaining int, unix int64) {
	globalManager.groupsAllocated.Set(float64(allocated))
	globalManager.groupsUnallocated.Set(float64(unallocated))
	globalManager.projectSlotsRemaining.Set(float64(slotsRemaining))
	globalManager.allocationLastRunUnix.Set(float64(unix))
}

// RecordLockAttempt counts a run lock acquisition by backend and result.
func RecordLockAttempt(backend string, acquired bool) {
	result := "acquired"
	if !acquired {
		result = "contended"
	}
	globalManager.allocationLockAttempts.WithLabelValues(backend, result).Inc()
}

// RecordScheduledAllocation counts a cron-triggered run.
func RecordScheduledAllocation() {
	globalManager.scheduledAllocationFires.Inc()
}

// Scoring metrics.

// RecordIndividualScore counts a computed individual score.
func RecordIndividualScore() {
	globalManager.individualScores.Inc()
}

// RecordGroupRating counts a computed group rating.
func RecordGroupRating(eligible bool) {
	globalManager.groupRatings.WithLabelValues(fmt.Sprintf("%t", eligible)).Inc()
}

// RecordUnknownSkills counts ignored skill entries.
func RecordUnknownSkills(n int) {
	globalManager.unknownSkills.Add(float64(n))
}

// RecordTranscriptParsed counts a parsed transcript and its course lines.
func RecordTranscriptParsed(courses int) {
	globalManager.transcriptsParsed.Inc()
	globalManager.transcriptCourses.Add(float64(courses))
}

// RecordScoringLatency records latency for the named scorer.
func RecordScoringLatency(scorer string, latencyMs float64) {
	globalManager.scoringLatency.WithLabelValues(scorer).Observe(latencyMs)
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Store metrics.

// RecordStoreLatency records the latency of a store operation.
func RecordStoreLatency(backend, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(backend, operation).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(backend, operation string) {
	globalManager.storeErrors.WithLabelValues(backend, operation).Inc()
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive moves the active worker gauge by delta.
func AddWorkerActive(delta int) {
	globalManager.workerActiveCount.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
