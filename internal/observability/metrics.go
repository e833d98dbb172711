package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - AgentHarness step throughput and latency per capability role
//   - Model client request performance, grouped by role so a circuit-broken
//     client shows up as a distinct series rather than hiding inside a
//     provider-wide average
//   - Conductor dispatch outcomes and writer patch/overlay activity
//   - EventBus publish volume and subscriber lag
//   - Terminal session counts for capacity planning
//   - HTTP API and SQLite latency
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.HarnessStepCompleted("terminal", "completed")
//	defer metrics.ModelRequestDuration("terminal", "primary").Observe(time.Since(start).Seconds())
type Metrics struct {
	// HarnessStepCounter counts PLAN/EXECUTE/OBSERVE/SYNTHESIZE loop steps.
	// Labels: role (terminal|researcher), outcome (tool_call|satisfied|blocked|error)
	HarnessStepCounter *prometheus.CounterVec

	// HarnessStepDuration measures a single harness step's wall time.
	// Labels: role
	HarnessStepDuration *prometheus.HistogramVec

	// HarnessRunOutcome counts completed AgentHarness runs by terminal kind.
	// Labels: role, outcome (completed|blocked|failed|cancelled)
	HarnessRunOutcome *prometheus.CounterVec

	// ModelRequestCounter counts model client calls by capability role, client
	// name, and status.
	// Labels: role, client, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model client call latency in seconds.
	// Labels: role, client
	ModelRequestDuration *prometheus.HistogramVec

	// ModelCircuitOpen is a gauge: 1 while a client's circuit breaker is
	// open, 0 otherwise.
	// Labels: client
	ModelCircuitOpen *prometheus.GaugeVec

	// ConductorDispatchCounter counts ConductorAction outcomes applied by
	// the Conductor actor loop.
	// Labels: action (dispatch|spawn_followup|retry|block|merge_canon|complete|await_worker)
	ConductorDispatchCounter *prometheus.CounterVec

	// ConductorActiveWorkers is a gauge of in-flight delegated tasks per run.
	// Labels: run_id
	ConductorActiveWorkers *prometheus.GaugeVec

	// WriterPatchCounter counts ApplyPatch and CommitProposal calls by
	// outcome.
	// Labels: op (apply_patch|commit_proposal|discard_proposal), status (ok|conflict|error)
	WriterPatchCounter *prometheus.CounterVec

	// WriterRevision is a gauge tracking the current head revision per run.
	// Labels: run_id
	WriterRevision *prometheus.GaugeVec

	// EventBusPublished counts events published by topic.
	// Labels: topic
	EventBusPublished *prometheus.CounterVec

	// EventBusSubscriberLag measures time between publish and a
	// subscriber's delivery, in seconds.
	// Labels: topic
	EventBusSubscriberLag *prometheus.HistogramVec

	// TerminalSessionsActive is a gauge of currently running PTY sessions.
	TerminalSessionsActive prometheus.Gauge

	// TerminalSessionDuration measures terminal session lifetime in
	// seconds.
	// Buckets: 1s, 5s, 30s, 60s, 300s, 1800s, 3600s
	TerminalSessionDuration prometheus.Histogram

	// SupervisorRestartCounter counts child restarts by the supervisor
	// tree.
	// Labels: child, critical (true|false)
	SupervisorRestartCounter *prometheus.CounterVec

	// SupervisorEscalations counts critical-child backoff escalations to a
	// parent restart.
	// Labels: child
	SupervisorEscalations *prometheus.CounterVec

	// ErrorCounter tracks classified errors by component and error kind.
	// Labels: component, error_type (transient|permanent|provider|capability_unavailable)
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures SQLite query latency.
	// Labels: operation (select|insert|update|delete), table
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts SQLite queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// RunAttempts counts AgentHarness run attempts by terminal status, for
	// retry-rate tracking across the whole fleet.
	// Labels: status (completed|blocked|failed|cancelled)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		HarnessStepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_harness_steps_total",
				Help: "Total number of AgentHarness loop steps by role and outcome",
			},
			[]string{"role", "outcome"},
		),

		HarnessStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "choiros_harness_step_duration_seconds",
				Help:    "Duration of a single AgentHarness step",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"role"},
		),

		HarnessRunOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_harness_runs_total",
				Help: "Total number of completed AgentHarness runs by terminal outcome",
			},
			[]string{"role", "outcome"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_model_requests_total",
				Help: "Total number of model client requests by role, client, and status",
			},
			[]string{"role", "client", "status"},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "choiros_model_request_duration_seconds",
				Help:    "Duration of model client requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"role", "client"},
		),

		ModelCircuitOpen: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "choiros_model_circuit_open",
				Help: "1 while a model client's circuit breaker is open",
			},
			[]string{"client"},
		),

		ConductorDispatchCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_conductor_actions_total",
				Help: "Total number of ConductorAction outcomes applied",
			},
			[]string{"action"},
		),

		ConductorActiveWorkers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "choiros_conductor_active_workers",
				Help: "Current number of in-flight delegated tasks by run",
			},
			[]string{"run_id"},
		),

		WriterPatchCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_writer_ops_total",
				Help: "Total number of RunWriter patch and overlay operations by outcome",
			},
			[]string{"op", "status"},
		),

		WriterRevision: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "choiros_writer_head_revision",
				Help: "Current head revision of a run's document",
			},
			[]string{"run_id"},
		),

		EventBusPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_eventbus_published_total",
				Help: "Total number of events published by topic",
			},
			[]string{"topic"},
		),

		EventBusSubscriberLag: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "choiros_eventbus_subscriber_lag_seconds",
				Help:    "Time between event publish and subscriber delivery",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"topic"},
		),

		TerminalSessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "choiros_terminal_sessions_active",
				Help: "Current number of running PTY sessions",
			},
		),

		TerminalSessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "choiros_terminal_session_duration_seconds",
				Help:    "Duration of terminal sessions in seconds",
				Buckets: []float64{1, 5, 30, 60, 300, 1800, 3600},
			},
		),

		SupervisorRestartCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_supervisor_restarts_total",
				Help: "Total number of child restarts by the supervision tree",
			},
			[]string{"child", "critical"},
		),

		SupervisorEscalations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_supervisor_escalations_total",
				Help: "Total number of critical-child backoff escalations to a parent restart",
			},
			[]string{"child"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_errors_total",
				Help: "Total number of classified errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "choiros_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "choiros_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "choiros_run_attempts_total",
				Help: "Total number of AgentHarness run attempts by terminal status",
			},
			[]string{"status"},
		),
	}
}

// HarnessStepCompleted records one PLAN/EXECUTE/OBSERVE/SYNTHESIZE step.
func (m *Metrics) HarnessStepCompleted(role, outcome string, durationSeconds float64) {
	m.HarnessStepCounter.WithLabelValues(role, outcome).Inc()
	m.HarnessStepDuration.WithLabelValues(role).Observe(durationSeconds)
}

// HarnessRunFinished records a terminal AgentHarness outcome and feeds the
// fleet-wide run attempt counter used for retry-rate tracking.
func (m *Metrics) HarnessRunFinished(role, outcome string) {
	m.HarnessRunOutcome.WithLabelValues(role, outcome).Inc()
	m.RunAttempts.WithLabelValues(outcome).Inc()
}

// RecordModelRequest records metrics for a model client call.
func (m *Metrics) RecordModelRequest(role, client, status string, durationSeconds float64) {
	m.ModelRequestCounter.WithLabelValues(role, client, status).Inc()
	m.ModelRequestDuration.WithLabelValues(role, client).Observe(durationSeconds)
}

// SetModelCircuitOpen reflects a model client's circuit breaker state.
func (m *Metrics) SetModelCircuitOpen(client string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.ModelCircuitOpen.WithLabelValues(client).Set(v)
}

// RecordConductorAction records a ConductorAction applied by the actor loop.
func (m *Metrics) RecordConductorAction(action string) {
	m.ConductorDispatchCounter.WithLabelValues(action).Inc()
}

// SetConductorActiveWorkers sets the in-flight delegated task count for a run.
func (m *Metrics) SetConductorActiveWorkers(runID string, count int) {
	m.ConductorActiveWorkers.WithLabelValues(runID).Set(float64(count))
}

// RecordWriterOp records a RunWriter patch/overlay operation outcome.
func (m *Metrics) RecordWriterOp(op, status string) {
	m.WriterPatchCounter.WithLabelValues(op, status).Inc()
}

// SetWriterRevision sets the current head revision gauge for a run.
func (m *Metrics) SetWriterRevision(runID string, revision int64) {
	m.WriterRevision.WithLabelValues(runID).Set(float64(revision))
}

// RecordEventPublished records an EventBus publish.
func (m *Metrics) RecordEventPublished(topic string) {
	m.EventBusPublished.WithLabelValues(topic).Inc()
}

// RecordSubscriberLag records the delay between publish and subscriber
// delivery for a topic.
func (m *Metrics) RecordSubscriberLag(topic string, lagSeconds float64) {
	m.EventBusSubscriberLag.WithLabelValues(topic).Observe(lagSeconds)
}

// TerminalSessionStarted increments the active terminal session gauge.
func (m *Metrics) TerminalSessionStarted() {
	m.TerminalSessionsActive.Inc()
}

// TerminalSessionEnded decrements the active terminal session gauge and
// records the session's lifetime.
func (m *Metrics) TerminalSessionEnded(durationSeconds float64) {
	m.TerminalSessionsActive.Dec()
	m.TerminalSessionDuration.Observe(durationSeconds)
}

// RecordSupervisorRestart records a child restart under one_for_one policy.
func (m *Metrics) RecordSupervisorRestart(child string, critical bool) {
	critLabel := "false"
	if critical {
		critLabel = "true"
	}
	m.SupervisorRestartCounter.WithLabelValues(child, critLabel).Inc()
}

// RecordSupervisorEscalation records a critical child exceeding its restart
// backoff threshold and escalating to a parent restart.
func (m *Metrics) RecordSupervisorEscalation(child string) {
	m.SupervisorEscalations.WithLabelValues(child).Inc()
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
