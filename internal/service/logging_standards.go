package service

// Logging Standards for socialhub
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldMessageID     = "message_id"
	LogFieldContactID     = "contact_id"
	LogFieldUserID        = "user_id"
	LogFieldCredentialKey = "key"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Message and event fields
	LogFieldEvent       = "event"
	LogFieldMessageKind = "kind"
	LogFieldPlatform    = "platform"
	LogFieldDirection   = "direction" // "incoming" or "outgoing"
	LogFieldStatus      = "status"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Request correlation
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Network and external services
	LogFieldEndpoint   = "endpoint"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldSize       = "response_size"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: duplicate webhook deliveries, gated scheduler skips, platform call attempts.
// INFO: startup and shutdown, credentials connected or deleted, refresh run summaries.
// WARN: partial refreshes, malformed ledger records, dropped slow subscribers.
// ERROR: failed refreshes, persistence failures, upstream errors surfaced to callers.
// FATAL: configuration or storage required for startup is unavailable.
//
// Tokens, app secrets and message text are never logged. Contact ids,
// message ids and credential keys go through internal/privacy unless the
// request context enables verbose logging.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
