package async

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/ytmp3/errors"
)

// ErrorCode represents the classification of a worker failure
type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnavailable  ErrorCode = "resource_unavailable"
	ErrorCodeExtraction   ErrorCode = "extraction_error"
	ErrorCodeStorageError ErrorCode = "storage_error"
	ErrorCodeNetworkError ErrorCode = "network_error"
	ErrorCodeTimeout      ErrorCode = "timeout"
	ErrorCodeUnknown      ErrorCode = "unknown"
)

// Worker stages, reported on failures
const (
	StageProbe    = "probe"
	StageValidate = "validate"
	StageExtract  = "extract"
	StageUpload   = "upload"
	StageRecord   = "record"
)

// ErrorContext provides structured information about a worker failure
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Reason    string    // Validation reason code, if any
	Message   string    // Underlying error text
	Retryable bool      // Would a later resubmission plausibly succeed?
}

// ClassifyError categorizes a worker failure by stage and error chain
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{Stage: stage, Message: err.Error()}

	if ve, ok := errors.AsValidationError(err); ok {
		ctx.Code = ErrorCodeValidation
		ctx.Reason = string(ve.Reason)
		ctx.Retryable = ve.Reason == errors.ReasonResourceUnavailable
		return ctx
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true
		return ctx
	}

	errLower := strings.ToLower(ctx.Message)
	switch {
	case strings.Contains(errLower, "unavailable") || strings.Contains(errLower, "private video") ||
		strings.Contains(errLower, "not available"):
		ctx.Code = ErrorCodeUnavailable
		ctx.Retryable = false

	case strings.Contains(errLower, "connection") || strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") || strings.Contains(errLower, "http error 5"):
		ctx.Code = ErrorCodeNetworkError
		ctx.Retryable = true

	case stage == StageUpload || stage == StageRecord:
		ctx.Code = ErrorCodeStorageError
		ctx.Retryable = true

	case stage == StageExtract || stage == StageProbe:
		ctx.Code = ErrorCodeExtraction
		ctx.Retryable = true

	default:
		ctx.Code = ErrorCodeUnknown
		ctx.Retryable = true
	}

	return ctx
}

// FailureMessage is the human-readable error recorded on a FAILED job.
func FailureMessage(key string, coolDown time.Duration) string {
	return fmt.Sprintf("Failed to download %s, please try again in %s", key, humanDuration(coolDown))
}

// humanDuration renders whole minutes and seconds in words, e.g. "1 minute".
func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a moment"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	case d%time.Second == 0:
		return plural(int(d/time.Second), "second")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
