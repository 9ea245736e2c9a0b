package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewBackendError("query failed", fmt.Errorf("connection reset"))
	assert.Equal(t, "BACKEND_ERROR: query failed (connection reset)", err.Error())

	err = NewInvalidInputError("keyword must not be empty")
	assert.Equal(t, "INVALID_INPUT: keyword must not be empty", err.Error())
}

func TestPredicatesFollowWrapChain(t *testing.T) {
	wrapped := fmt.Errorf("variation %q: %w", "robot vacuum", NewRateLimitedError("quota exceeded", 2*time.Second))

	assert.True(t, IsRateLimited(wrapped))
	assert.False(t, IsUnauthorized(wrapped))
	assert.Equal(t, ErrCodeRateLimited, CodeOf(wrapped))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, ErrCodeBackend, CodeOf(context.DeadlineExceeded))
	assert.False(t, IsNotFound(context.Canceled))
}

func TestAuthErrorUnwraps(t *testing.T) {
	cause := fmt.Errorf("invalid_grant")
	err := NewAuthError("token refresh failed", cause)

	assert.True(t, IsUnauthorized(err))
	assert.ErrorIs(t, err, cause)
}
