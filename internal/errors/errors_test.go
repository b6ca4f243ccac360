package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("x", 400, "bad request")
	assert.Contains(t, err.Error(), "x API error")
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad request")
}

func TestAPIError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{Service: "x", StatusCode: 500, Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewAPIError_LinksSentinels(t *testing.T) {
	assert.ErrorIs(t, NewAPIError("x", 401, "unauthorized"), ErrAuthFailure)
	assert.ErrorIs(t, NewAPIError("x", 403, "forbidden"), ErrAuthFailure)
	assert.ErrorIs(t, NewAPIError("x", 404, "gone"), ErrNotFound)
	assert.ErrorIs(t, NewAPIError("x", 429, "slow down"), ErrRateLimit)
	assert.ErrorIs(t, NewAPIError("x", 503, "down"), ErrUnavailable)
	assert.NoError(t, NewAPIError("x", 400, "bad").Unwrap())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("x", 429, "rate limit")))
	assert.True(t, IsRetryable(NewAPIError("x", 502, "bad gateway")))
	assert.True(t, IsRetryable(NewAPIError("x", 503, "unavailable")))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("listing page: %w", ErrRateLimit)))

	assert.False(t, IsRetryable(NewAPIError("x", 401, "unauth")))
	assert.False(t, IsRetryable(NewAPIError("x", 404, "not found")))
	assert.False(t, IsRetryable(ErrAuthFailure))
	assert.False(t, IsRetryable(ErrPrecondition))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 429, StatusCode(fmt.Errorf("wrapped: %w", NewAPIError("x", 429, "slow"))))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}
