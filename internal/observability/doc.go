// Package observability provides logging and metrics support for the
// QA orchestrator.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for sessions, workflows, polling, and clustering
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("session_id", sessionID).Msg("session created")
//
// Add session context to a logger:
//
//	logger = observability.WithSessionContext(logger, sessionID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("qa_orchestrator")
//
// Record metrics:
//
//	metrics.RecordQuestionSubmitted()
//	metrics.RecordStageTransition("idle", "classifying")
//	metrics.RecordPollFetch("search")
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithCorrelationID(ctx, correlationID)
//	ctx = observability.WithSessionID(ctx, sessionID)
//
//	correlationID := observability.CorrelationIDFromContext(ctx)
//	sessionID := observability.SessionIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - session_id: QA session identifier
//   - stage: Current workflow stage
//   - stage_seq: Stage sequence number
//   - event: Workflow event kind
//   - job_id: Background job identifier
//   - job_kind: Background job kind (search, detail_query, generation, clustering)
//   - correlation_id: Request correlation identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
