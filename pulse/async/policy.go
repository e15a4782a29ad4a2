package async

import (
	"time"

	"github.com/teranos/ytmp3/errors"
)

// MaxKeyLength bounds accepted keys.
const MaxKeyLength = 64

// ValidateKey rejects keys outside [A-Za-z0-9_-]{1,64}.
func ValidateKey(key string) error {
	if key == "" {
		return errors.NewValidationError(key, errors.ReasonInvalidKeyFormat, "key is empty")
	}
	if len(key) > MaxKeyLength {
		return errors.NewValidationError(key, errors.ReasonInvalidKeyFormat, "key longer than %d characters", MaxKeyLength)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return errors.NewValidationError(key, errors.ReasonInvalidKeyFormat, "unexpected character %q at %d", c, i)
		}
	}
	return nil
}

// Policy decides whether probed metadata is acceptable.
type Policy struct {
	MaxDuration time.Duration // zero disables the limit
}

// Check returns a ValidationError when meta is unacceptable.
func (p Policy) Check(key string, meta *Metadata) error {
	if meta == nil || meta.Duration <= 0 {
		return errors.NewValidationError(key, errors.ReasonNoDurationMetadata, "")
	}
	if p.MaxDuration > 0 && meta.Duration > p.MaxDuration {
		return errors.NewValidationError(key, errors.ReasonExceedsDurationLimit,
			"duration %s exceeds limit %s", meta.Duration, p.MaxDuration)
	}
	return nil
}
