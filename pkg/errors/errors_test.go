package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"coded", NewValidationError("bad request", nil), CodeValidation},
		{"wrapped coded", fmt.Errorf("outer: %w", NewNotFoundError("blob", nil)), CodeNotFound},
		{"deadline", fmt.Errorf("eval: %w", context.DeadlineExceeded), CodeTimeout},
		{"timeout sentinel", ErrTimeout, CodeTimeout},
		{"canceled", context.Canceled, CodeCanceled},
		{"invalid message", fmt.Errorf("%w: empty body", ErrInvalidMessage), CodeValidation},
		{"publish", ErrPublishFailed, CodeNetwork},
		{"plain", errors.New("whatever"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(NewInternalError("upload", nil)))
	assert.False(t, IsRetryable(NewValidationError("mode", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("cause")
	err := NewInternalError("upload failed", cause)
	assert.Equal(t, "[INTERNAL_ERROR] upload failed: cause", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[VALIDATION_ERROR] bad", NewValidationError("bad", nil).Error())
}
