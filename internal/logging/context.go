package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent names the subsystem emitting the line.
	FieldComponent = "component"
	// FieldAttempt carries the apply attempt identifier.
	FieldAttempt = "attempt"
	// FieldTrigger names what caused an apply attempt (watch, admin, remote, ...).
	FieldTrigger = "trigger"
	// FieldOutcome is the final outcome of an apply attempt.
	FieldOutcome = "outcome"
	// FieldFailureKind classifies a failed attempt.
	FieldFailureKind = "failure_kind"
	// FieldPath is a filesystem path relevant to the line.
	FieldPath = "path"
	// FieldEventType tags warnings and errors with a stable machine-readable name.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID ties admin requests to the log lines they cause.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags lines that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const (
	attemptKey contextKey = iota
	triggerKey
	requestKey
)

// WithAttempt stores the attempt identifier and trigger on ctx.
func WithAttempt(ctx context.Context, attemptID, trigger string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if attemptID != "" {
		ctx = context.WithValue(ctx, attemptKey, attemptID)
	}
	if trigger != "" {
		ctx = context.WithValue(ctx, triggerKey, trigger)
	}
	return ctx
}

// AttemptFromContext returns the attempt identifier stored on ctx.
func AttemptFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(attemptKey).(string)
	return id, ok && id != ""
}

// WithRequestID stores an admin request correlation identifier on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := AttemptFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAttempt, id))
	}
	if trigger, ok := ctx.Value(triggerKey).(string); ok && trigger != "" {
		fields = append(fields, slog.String(FieldTrigger, trigger))
	}
	if rid, ok := ctx.Value(requestKey).(string); ok && rid != "" {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
