package errors

import "fmt"

// Reason is a machine-readable validation failure code.
type Reason string

const (
	ReasonInvalidKeyFormat     Reason = "invalid-key-format"
	ReasonResourceUnavailable  Reason = "resource-unavailable"
	ReasonNoDurationMetadata   Reason = "no-duration-metadata"
	ReasonExceedsDurationLimit Reason = "exceeds-duration-limit"
)

// ValidationError reports that a submitted key or the resource behind it is
// unacceptable. It is never retried automatically.
type ValidationError struct {
	Reason Reason
	Key    string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid key %q: %s: %s", e.Key, e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid key %q: %s", e.Key, e.Reason)
}

// NewValidationError creates a ValidationError with an optional formatted detail.
func NewValidationError(key string, reason Reason, format string, args ...interface{}) error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return WithStack(&ValidationError{Reason: reason, Key: key, Detail: detail})
}

// AsValidationError extracts a ValidationError from err's chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if err != nil && As(err, &ve) {
		return ve, true
	}
	return nil, false
}
