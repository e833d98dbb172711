// Package observability provides comprehensive monitoring and debugging capabilities
// for choirosd through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: Minimal performance impact on production systems
//   - Type-safe: Strongly-typed APIs reduce configuration errors
//   - Production-ready: Built-in security (redaction) and reliability features
//   - Standards-based: Uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - AgentHarness step throughput and outcomes, by role
//   - Model request latency and circuit-breaker state, by client tier
//   - Conductor dispatch actions and active worker counts
//   - RunWriter patch/overlay operations and revision numbers
//   - EventBus publish counts and subscriber lag
//   - Terminal session lifetime
//   - Supervisor restarts and escalations
//   - Error rates by component and type
//   - HTTP request/response metrics
//   - Database query performance
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	defer prometheus.Handler() // Expose metrics endpoint
//
//	// Track a harness step
//	metrics.HarnessStepCompleted("terminal", "tool_call", time.Since(start).Seconds())
//
//	// Track model requests
//	start := time.Now()
//	// ... make model request ...
//	metrics.RecordModelRequest("terminal", "primary", "success", time.Since(start).Seconds())
//
//	// Track conductor dispatch
//	metrics.RecordConductorAction("dispatch")
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic (session_id, thread_id, run_id) scope correlation from context
//   - Sensitive data redaction (provider API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	// Add scope IDs for correlation
//	ctx := observability.AddScope(ctx, sessionID, threadID, runID)
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "harness step completed",
//	    "role", "terminal",
//	    "outcome", "tool_call",
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "model request failed",
//	    "error", err,
//	    "client", "primary",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a run across components:
//   - One root span per AgentHarness run, child spans per step
//   - Performance bottleneck identification
//   - Error correlation across model requests, tool calls, and writer ops
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "choirosd",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    SamplingRate:   0.1, // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	// Trace a harness run
//	ctx, span := tracer.TraceHarnessRun(ctx, "terminal", runID)
//	defer span.End()
//
//	// Trace model requests
//	ctx, modelSpan := tracer.TraceModelRequest(ctx, "terminal", "primary")
//	defer modelSpan.End()
//	tracer.SetAttributes(modelSpan, "prompt_tokens", 100, "completion_tokens", 500)
//
//	// Trace tool execution
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "shell_exec")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Context Propagation
//
// All three components integrate with Go's context for automatic correlation:
//
//	// Add IDs to context
//	ctx = observability.AddScope(ctx, sessionID, threadID, runID)
//	ctx = observability.AddCorrelationID(ctx, correlationID)
//
//	// IDs automatically appear in logs
//	logger.Info(ctx, "starting run") // Includes session_id, thread_id, run_id
//
//	// Spans inherit context
//	ctx, span := tracer.Start(ctx, "operation")
//	// Trace context propagates to child spans
//
// # Integration Example
//
// Complete example integrating all three components for one harness step:
//
//	func (h *Harness) runStep(ctx context.Context, runID string) error {
//	    ctx = observability.AddRunID(ctx, runID)
//
//	    // Start tracing
//	    ctx, span := tracer.TraceHarnessRun(ctx, h.role, runID)
//	    defer span.End()
//
//	    // Process model request with full observability
//	    modelStart := time.Now()
//	    ctx, modelSpan := tracer.TraceModelRequest(ctx, h.role, h.client)
//	    defer modelSpan.End()
//
//	    response, err := h.model.Complete(ctx, step.Prompt)
//	    modelDuration := time.Since(modelStart).Seconds()
//
//	    if err != nil {
//	        metrics.RecordError("harness", "model_request_failed")
//	        tracer.RecordError(modelSpan, err)
//	        logger.Error(ctx, "model request failed", "error", err)
//	        metrics.RecordModelRequest(h.role, h.client, "error", modelDuration)
//	        return err
//	    }
//
//	    metrics.RecordModelRequest(h.role, h.client, "success", modelDuration)
//	    logger.Info(ctx, "model request completed", "duration_ms", modelDuration*1000)
//
//	    return nil
//	}
//
// # Security Considerations
//
// The logging component automatically redacts so that no provider API key is
// ever written to a log line or forwarded to a sandboxed worker:
//   - Provider API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Performance
//
// The observability system is designed for minimal overhead:
//   - Metrics use lock-free counters where possible
//   - Logging with slog is highly efficient
//   - Tracing supports sampling to reduce overhead
//   - Context propagation is zero-allocation in most cases
//
// Typical overhead:
//   - Metrics: <1% CPU, ~10KB memory per metric
//   - Logging: ~1-5μs per log call
//   - Tracing: ~2-10μs per span (when sampled)
//
// # Configuration
//
// All components support configuration via structs:
//
//	// Metrics - no configuration needed, auto-registered
//	metrics := observability.NewMetrics()
//
//	// Logging - configurable output, level, format
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:          os.Getenv("LOG_LEVEL"),
//	    Format:         "json",
//	    AddSource:      true,
//	    RedactPatterns: []string{`custom-secret-\d+`},
//	})
//
//	// Tracing - configurable sampling and attributes
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "choirosd",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    SamplingRate:   0.1,
//	    Attributes: map[string]string{
//	        "deployment.region": region,
//	    },
//	})
//	defer shutdown(context.Background())
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with an in-process, no-export TracerProvider in tests
//
// # Best Practices
//
//  1. Always propagate context to enable correlation
//  2. Use defer for span.End() to ensure spans are closed
//  3. Record errors on both metrics and traces
//  4. Use structured logging with key-value pairs
//  5. Set appropriate sampling rates for high-traffic systems
//  6. Add relevant attributes to spans for debugging
//  7. Use typed metric labels (avoid high-cardinality values)
//  8. Call shutdown() on tracer during graceful shutdown
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Harness step throughput
//	rate(choiros_harness_steps_total[5m])
//
//	# Model request latency (95th percentile)
//	histogram_quantile(0.95, rate(choiros_model_request_duration_seconds_bucket[5m]))
//
//	# Error rate
//	rate(choiros_errors_total[5m])
//
//	# Active terminal sessions
//	choiros_terminal_sessions_active
//
//	# Writer patch latency
//	rate(choiros_writer_op_duration_seconds_sum[5m]) /
//	rate(choiros_writer_op_duration_seconds_count[5m])
//
// # Alerting
//
// Recommended alerts based on metrics:
//   - High error rate: choiros_errors_total > threshold
//   - High model latency: p95 latency > 10s
//   - Low harness step throughput: rate(choiros_harness_steps_total) < threshold
//   - Supervisor escalation storm: rate(choiros_supervisor_escalations_total) > threshold
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
