package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	sessionIDKey     contextKey = "session_id"
	jobIDKey         contextKey = "job_id"
	jobKindKey       contextKey = "job_kind"
)

// WithCorrelationID adds a request correlation ID to the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
// Returns empty string if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSessionID adds a QA session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session ID from context.
// Returns empty string if not present.
func SessionIDFromContext(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithJob adds background job identifiers to the context.
func WithJob(ctx context.Context, jobID, jobKind string) context.Context {
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	ctx = context.WithValue(ctx, jobKindKey, jobKind)
	return ctx
}

// JobFromContext retrieves background job identifiers from context.
// Returns empty strings if not present.
func JobFromContext(ctx context.Context) (jobID, jobKind string) {
	if v := ctx.Value(jobIDKey); v != nil {
		if id, ok := v.(string); ok {
			jobID = id
		}
	}
	if v := ctx.Value(jobKindKey); v != nil {
		if kind, ok := v.(string); ok {
			jobKind = kind
		}
	}
	return jobID, jobKind
}

// RequestContext contains all the context data for one API request.
type RequestContext struct {
	CorrelationID string
	SessionID     string
	JobID         string
	JobKind       string
}

// WithRequestContextFull adds all request context to the context.
func WithRequestContextFull(ctx context.Context, rc RequestContext) context.Context {
	if rc.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, rc.CorrelationID)
	}
	if rc.SessionID != "" {
		ctx = WithSessionID(ctx, rc.SessionID)
	}
	if rc.JobID != "" || rc.JobKind != "" {
		ctx = WithJob(ctx, rc.JobID, rc.JobKind)
	}
	return ctx
}

// RequestContextFromContext extracts all request context from the context.
func RequestContextFromContext(ctx context.Context) RequestContext {
	jobID, jobKind := JobFromContext(ctx)

	return RequestContext{
		CorrelationID: CorrelationIDFromContext(ctx),
		SessionID:     SessionIDFromContext(ctx),
		JobID:         jobID,
		JobKind:       jobKind,
	}
}
