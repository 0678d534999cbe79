package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the QA orchestrator.
// Metrics are organized by subsystem: sessions, workflows, transitions,
// polling, backend requests, and clustering. All counters and histograms
// are registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// SessionsStarted counts QA sessions created.
	SessionsStarted prometheus.Counter

	// SessionsClosed counts QA sessions torn down, whether explicitly
	// or by idle eviction.
	SessionsClosed prometheus.Counter

	// ActiveSessions tracks the number of live QA sessions.
	ActiveSessions prometheus.Gauge

	// QuestionsSubmitted counts questions accepted into a workflow.
	QuestionsSubmitted prometheus.Counter

	// WorkflowsCompleted counts workflows that delivered an answer.
	WorkflowsCompleted prometheus.Counter

	// WorkflowsFaulted counts workflows that ended on the error stage,
	// labeled by fault kind (timeout, transport, job_failed, other).
	WorkflowsFaulted *prometheus.CounterVec

	// WorkflowDuration observes the time from question to terminal
	// stage in seconds.
	WorkflowDuration prometheus.Histogram

	// StageTransitions counts applied stage changes, labeled by the
	// stage left and the stage entered.
	StageTransitions *prometheus.CounterVec

	// InvalidTransitions counts rejected (stage, event) pairs.
	InvalidTransitions *prometheus.CounterVec

	// StaleResponses counts asynchronous responses discarded because
	// the stage that issued them was superseded.
	StaleResponses prometheus.Counter

	// PollFetches counts status fetches, labeled by job kind.
	PollFetches *prometheus.CounterVec

	// PollOutcomes counts finished polls, labeled by job kind and
	// outcome (completed, failed, timeout, cancelled, transport).
	PollOutcomes *prometheus.CounterVec

	// PollDuration observes how long polls ran, labeled by job kind.
	PollDuration *prometheus.HistogramVec

	// BackendRequestsTotal counts HTTP requests to the document
	// service, labeled by operation.
	BackendRequestsTotal *prometheus.CounterVec

	// BackendRequestsFailed counts failed requests to the document
	// service, labeled by operation and error type.
	BackendRequestsFailed *prometheus.CounterVec

	// BackendRequestDuration observes request duration to the document
	// service in seconds, labeled by operation.
	BackendRequestDuration *prometheus.HistogramVec

	// ClusterRunsStarted counts clustering runs triggered.
	ClusterRunsStarted prometheus.Counter

	// ClusterRunsCompleted counts clustering runs that reached the
	// completed status.
	ClusterRunsCompleted prometheus.Counter

	// ClusterRunsFailed counts clustering runs that ended failed,
	// timed out, or stopped on a transport fault.
	ClusterRunsFailed prometheus.Counter

	// ClusterRunDuration observes end-to-end clustering run duration
	// in seconds.
	ClusterRunDuration prometheus.Histogram

	// ClusterDeletions counts confirmed cluster wipe operations.
	ClusterDeletions prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Sessions
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of QA sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of QA sessions torn down",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live QA sessions",
		}),

		// Workflows
		QuestionsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_submitted_total",
			Help:      "Total number of questions accepted into a workflow",
		}),
		WorkflowsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_completed_total",
			Help:      "Total number of workflows that delivered an answer",
		}),
		WorkflowsFaulted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_faulted_total",
			Help:      "Total number of workflows that ended on the error stage by fault kind",
		}, []string{"fault_kind"}),
		WorkflowDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Time from question submission to a terminal stage in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Transitions
		StageTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Total number of applied stage transitions",
		}, []string{"from_stage", "to_stage"}),
		InvalidTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_transitions_total",
			Help:      "Total number of rejected stage and event pairs",
		}, []string{"stage", "event"}),
		StaleResponses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Total number of asynchronous responses discarded as stale",
		}),

		// Polling
		PollFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_fetches_total",
			Help:      "Total number of job status fetches by job kind",
		}, []string{"job"}),
		PollOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Total number of finished polls by job kind and outcome",
		}, []string{"job", "outcome"}),
		PollDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of job polls in seconds by job kind",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),

		// Backend requests
		BackendRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of requests to the document service",
		}, []string{"operation"}),
		BackendRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_failed_total",
			Help:      "Total number of failed requests to the document service",
		}, []string{"operation", "error_type"}),
		BackendRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of requests to the document service in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		// Clustering
		ClusterRunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_runs_started_total",
			Help:      "Total number of clustering runs triggered",
		}),
		ClusterRunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_runs_completed_total",
			Help:      "Total number of clustering runs completed",
		}),
		ClusterRunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_runs_failed_total",
			Help:      "Total number of clustering runs that failed or timed out",
		}),
		ClusterRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_run_duration_seconds",
			Help:      "Duration of clustering runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		ClusterDeletions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_deletions_total",
			Help:      "Total number of confirmed cluster wipe operations",
		}),
	}
}

// RecordSessionStarted records a newly created session.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionClosed records a torn down session.
func (m *Metrics) RecordSessionClosed() {
	m.SessionsClosed.Inc()
	m.ActiveSessions.Dec()
}

// RecordQuestionSubmitted records a question accepted into a workflow.
func (m *Metrics) RecordQuestionSubmitted() {
	m.QuestionsSubmitted.Inc()
}

// RecordWorkflowCompleted records a workflow that delivered an answer.
func (m *Metrics) RecordWorkflowCompleted(durationSeconds float64) {
	m.WorkflowsCompleted.Inc()
	m.WorkflowDuration.Observe(durationSeconds)
}

// RecordWorkflowFaulted records a workflow that ended on the error stage.
func (m *Metrics) RecordWorkflowFaulted(faultKind string, durationSeconds float64) {
	m.WorkflowsFaulted.WithLabelValues(faultKind).Inc()
	m.WorkflowDuration.Observe(durationSeconds)
}

// RecordStageTransition records an applied stage change.
func (m *Metrics) RecordStageTransition(fromStage, toStage string) {
	m.StageTransitions.WithLabelValues(fromStage, toStage).Inc()
}

// RecordInvalidTransition records a rejected (stage, event) pair.
func (m *Metrics) RecordInvalidTransition(stage, event string) {
	m.InvalidTransitions.WithLabelValues(stage, event).Inc()
}

// RecordStaleResponse records a discarded stale response.
func (m *Metrics) RecordStaleResponse() {
	m.StaleResponses.Inc()
}

// RecordPollFetch records one job status fetch.
func (m *Metrics) RecordPollFetch(job string) {
	m.PollFetches.WithLabelValues(job).Inc()
}

// RecordPollOutcome records a finished poll.
func (m *Metrics) RecordPollOutcome(job, outcome string, durationSeconds float64) {
	m.PollOutcomes.WithLabelValues(job, outcome).Inc()
	m.PollDuration.WithLabelValues(job).Observe(durationSeconds)
}

// RecordBackendRequest records a request to the document service.
func (m *Metrics) RecordBackendRequest(operation string, durationSeconds float64) {
	m.BackendRequestsTotal.WithLabelValues(operation).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordBackendRequestFailed records a failed request to the document
// service.
func (m *Metrics) RecordBackendRequestFailed(operation, errorType string) {
	m.BackendRequestsFailed.WithLabelValues(operation, errorType).Inc()
}

// RecordClusterRunStarted records a triggered clustering run.
func (m *Metrics) RecordClusterRunStarted() {
	m.ClusterRunsStarted.Inc()
}

// RecordClusterRunCompleted records a completed clustering run.
func (m *Metrics) RecordClusterRunCompleted(durationSeconds float64) {
	m.ClusterRunsCompleted.Inc()
	m.ClusterRunDuration.Observe(durationSeconds)
}

// RecordClusterRunFailed records a failed clustering run.
func (m *Metrics) RecordClusterRunFailed(durationSeconds float64) {
	m.ClusterRunsFailed.Inc()
	m.ClusterRunDuration.Observe(durationSeconds)
}

// RecordClusterDeletion records a confirmed cluster wipe.
func (m *Metrics) RecordClusterDeletion() {
	m.ClusterDeletions.Inc()
}
