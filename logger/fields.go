package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across ytmp3.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldKey       = "key"
	FieldRequestID = "request_id"
	FieldRequester = "requester"
	FieldWorkerID  = "worker_id"

	// Components
	FieldComponent = "component"
	FieldSymbol    = "symbol"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStage     = "stage"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldCutoff     = "cutoff"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"
	FieldReason    = "reason"

	// Counts and sizes
	FieldCount        = "count"
	FieldBatchSize    = "batch_size"
	FieldTotalCount   = "total_count"
	FieldReceiveCount = "receive_count"

	// Status
	FieldStatus   = "status"
	FieldArtifact = "artifact"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
)

type contextKey string

const (
	keyKey       contextKey = "logger_key"
	requestIDKey contextKey = "logger_request_id"
)

// WithKey adds a job key to the context for logging
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyKey, key)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID carried by ctx, if any
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if key, ok := ctx.Value(keyKey).(string); ok && key != "" {
		fields = append(fields, FieldKey, key)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext decorates base with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	janitor.New(store, artifacts, cfg, logger.ComponentLogger("janitor"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
