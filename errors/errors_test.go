package errors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(New("error"), "Receive count: 3")

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "Receive count: 3", details[0])
}

func TestNotFound(t *testing.T) {
	err := NewNotFoundError("job %s", "abc123")
	assert.True(t, IsNotFoundError(err))
	assert.True(t, IsNotFoundError(Wrap(err, "lookup")))
	assert.False(t, IsNotFoundError(New("something else")))
	assert.False(t, IsNotFoundError(nil))
}

func TestMarkTransient(t *testing.T) {
	t.Run("plain collaborator failure", func(t *testing.T) {
		err := MarkTransient(New("connection refused"))
		assert.True(t, IsTransient(err))
		assert.False(t, Is(err, ErrTimeout))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("deadline counts as timeout", func(t *testing.T) {
		err := MarkTransient(Wrap(context.DeadlineExceeded, "get job"))
		assert.True(t, IsTransient(err))
		assert.True(t, Is(err, ErrTimeout))
		assert.True(t, Is(err, context.DeadlineExceeded))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, MarkTransient(nil))
		assert.False(t, IsTransient(nil))
	})
}

func TestCombineErrors(t *testing.T) {
	first := New("batch 1")
	second := New("batch 2")

	assert.Nil(t, CombineErrors(nil, nil))
	assert.Equal(t, first, CombineErrors(first, nil))
	combined := CombineErrors(first, second)
	assert.True(t, Is(combined, first))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("abc123", ReasonExceedsDurationLimit, "duration %s exceeds %s", "12m0s", "10m0s")

	ve, ok := AsValidationError(Wrap(err, "submit"))
	require.True(t, ok)
	assert.Equal(t, ReasonExceedsDurationLimit, ve.Reason)
	assert.Equal(t, "abc123", ve.Key)
	assert.Equal(t, "duration 12m0s exceeds 10m0s", ve.Detail)
	assert.Contains(t, err.Error(), "exceeds-duration-limit")

	_, ok = AsValidationError(New("plain"))
	assert.False(t, ok)
	_, ok = AsValidationError(nil)
	assert.False(t, ok)
}

func TestValidationErrorWithoutDetail(t *testing.T) {
	err := NewValidationError("bad key!", ReasonInvalidKeyFormat, "")
	assert.Equal(t, `invalid key "bad key!": invalid-key-format`, UnwrapAll(err).Error())
}
