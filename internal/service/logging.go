package service

import (
	"context"

	"socialhub/internal/models"
	"socialhub/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeContent completely hides message content for privacy
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}

// LogMessageEvent logs a ledger change with appropriate privacy controls
func LogMessageEvent(ctx context.Context, logger *logrus.Logger, event string, msg models.Message) {
	entry := LogWithContext(ctx, logger)
	if IsVerboseLogging(ctx) {
		entry.WithFields(logrus.Fields{
			LogFieldEvent:     event,
			LogFieldContactID: msg.ContactID,
			LogFieldMessageID: msg.ID,
			LogFieldDirection: msg.Direction,
			"content":         msg.Text,
		}).Info("Ledger updated")
		return
	}
	entry.WithFields(logrus.Fields{
		LogFieldEvent:     event,
		LogFieldContactID: privacy.MaskContactID(msg.ContactID),
		LogFieldMessageID: privacy.MaskMessageID(msg.ID),
		LogFieldDirection: msg.Direction,
		"content":         SanitizeContent(msg.Text),
	}).Info("Ledger updated")
}
