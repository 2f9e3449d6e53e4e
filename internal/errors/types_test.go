package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidConfig,
				Message: "configuration is invalid",
			},
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodePersistence,
				Message: "failed to write snapshot",
				Cause:   errors.New("disk full"),
			},
			expected: "PERSISTENCE: failed to write snapshot: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "contact").WithContext("value", "abc")

	assert.Equal(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "contact", err.Context["field"])
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	inner := NewNotFoundError("credential", "u1:facebook:42")
	wrapped := fmt.Errorf("load failed: %w", inner)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNotFound, appErr.Code)
	assert.True(t, Is(wrapped, ErrCodeNotFound))
	assert.False(t, Is(nil, ErrCodeNotFound))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable AppError", WrapRetryable(errors.New("temp"), ErrCodeUpstreamAPI, "graph error"), true},
		{"non-retryable AppError", New(ErrCodeInvalidInput, "bad input"), false},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "Please login again", GetUserMessage(New(ErrCodeAuthentication, "auth failed").WithUserMessage("Please login again")))
	assert.Equal(t, "something broke", GetUserMessage(New(ErrCodeInternalError, "something broke")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("standard error")))
}

func TestNewUpstreamError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
		wantHTTP      int
	}{
		{"server error", 503, true, http.StatusBadGateway},
		{"rate limited", 429, true, http.StatusBadGateway},
		{"bad request passes through", 400, false, http.StatusBadRequest},
		{"unauthorized passes through", 401, false, http.StatusUnauthorized},
		{"transport failure", 0, true, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewUpstreamError("facebook", "/oauth/access_token", tt.status, "Invalid OAuth access token", errors.New("boom"))
			assert.Equal(t, ErrCodeUpstreamAPI, err.Code)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, tt.wantHTTP, HTTPStatusCode(err))
			assert.Equal(t, "facebook: Invalid OAuth access token", err.UserMessage)
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(NewValidationError("contact", "", "required")))
	assert.Equal(t, http.StatusNotFound, HTTPStatusCode(NewNotFoundError("contact", "+1")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusCode(NewPersistenceError("save", errors.New("io"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(errors.New("plain")))
}

func TestToHTTPResponse_DropsSensitiveContext(t *testing.T) {
	err := NewValidationError("token", "EAAB-secret", "token rejected").WithContext("token", "EAAB-secret")

	resp := ToHTTPResponse(err, "req_1")

	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
	assert.Equal(t, "req_1", resp.RequestID)
	ctx, ok := resp.Error.Context.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "token", ctx["field"])
	assert.NotContains(t, ctx, "value")
	assert.NotContains(t, ctx, "token")
}
