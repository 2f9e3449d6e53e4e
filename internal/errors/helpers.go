package errors

import (
	"context"
	"fmt"
	"net/http"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	userIDKey    contextKey = "user_id"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewPersistenceError creates a local read/write error with operation context
func NewPersistenceError(operation string, err error) *AppError {
	return Wrap(err, ErrCodePersistence, fmt.Sprintf("persistence %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Storage operation failed")
}

// NewUpstreamError creates an error for a failed remote platform call.
// The remote status and message are kept so callers can propagate them.
func NewUpstreamError(platform, endpoint string, statusCode int, remoteMessage string, err error) *AppError {
	retryable := statusCode >= 500 || statusCode == 429 || statusCode == 408 || statusCode == 0

	message := fmt.Sprintf("%s API call failed", platform)
	appErr := Wrap(err, ErrCodeUpstreamAPI, message).
		WithContext("platform", platform).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)
	appErr.StatusCode = statusCode
	appErr.Retryable = retryable
	if remoteMessage != "" {
		appErr.WithUserMessage(fmt.Sprintf("%s: %s", platform, remoteMessage))
	}
	return appErr
}

// NewPartialFailure records a multi-step operation where only some steps succeeded
func NewPartialFailure(operation string, err error) *AppError {
	return Wrap(err, ErrCodePartialFailure, fmt.Sprintf("%s partially completed", operation)).
		WithContext("operation", operation)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewAuthError creates an authentication/authorization error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// Context helpers

// WithRequestID stores a request id used when decorating errors
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTraceID stores the trace id used when decorating errors
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithUserID stores the application user id used when decorating errors
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})
	if requestID := ctx.Value(requestIDKey); requestID != nil {
		errorCtx["request_id"] = requestID
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		errorCtx["trace_id"] = traceID
	}
	if userID := ctx.Value(userIDKey); userID != nil {
		errorCtx["user_id"] = userID
	}
	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}
	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}
	return err
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeUpstreamAPI:
		appErr, _ := As(err)
		if appErr.Retryable || appErr.StatusCode == 0 {
			return http.StatusBadGateway
		}
		// Remote client errors (bad code, revoked token) pass through.
		if appErr.StatusCode >= 400 && appErr.StatusCode < 500 {
			return appErr.StatusCode
		}
		return http.StatusBadGateway
	case ErrCodePersistence, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	if appErr, ok := As(err); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "token" && k != "secret" && k != "value" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
	}

	return response
}
