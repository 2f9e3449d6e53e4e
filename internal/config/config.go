package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"socialhub/internal/constants"
	"socialhub/internal/models"
	"socialhub/internal/security"
	"socialhub/internal/validation"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingVerifyToken = models.ConfigError{Message: "missing WhatsApp webhook verify token"}
	ErrInvalidPort        = models.ConfigError{Message: "server port must be between 1 and 65535"}
	ErrInvalidLogLevel    = models.ConfigError{Message: "invalid log level"}
)

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. A missing file is not an error; variables already set win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := security.ValidateFilePath(path); err != nil {
		return fmt.Errorf("invalid env file path: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.WhatsApp.VerifyToken == "" {
		return ErrMissingVerifyToken
	}

	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.WhatsApp.QueueSize <= 0 {
		c.WhatsApp.QueueSize = constants.DefaultWebhookQueueSize
	}

	if c.Ledger.Dir == "" {
		c.Ledger.Dir = constants.DefaultLedgerDir
	}
	if err := security.ValidateFilePath(c.Ledger.Dir); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid ledger dir: %v", err)}
	}
	if c.Ledger.MaxMessages <= 0 {
		c.Ledger.MaxMessages = constants.DefaultLedgerMaxMessages
	}

	if c.Tokens.StoreDSN == "" {
		c.Tokens.StoreDSN = constants.DefaultTokenStoreDSN
	}
	if c.Tokens.RefreshIntervalHours <= 0 {
		c.Tokens.RefreshIntervalHours = constants.DefaultRefreshIntervalHours
	}
	if c.Tokens.WakeIntervalMinutes <= 0 {
		c.Tokens.WakeIntervalMinutes = constants.DefaultRefreshWakeMinutes
	}
	if c.Tokens.LegacyImportPath != "" {
		if err := security.ValidateFilePath(c.Tokens.LegacyImportPath); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid legacy import path: %v", err)}
		}
	}

	if c.Meta.BaseURL == "" {
		c.Meta.BaseURL = constants.DefaultGraphAPIBaseURL
	}
	if c.Meta.APIVersion == "" {
		c.Meta.APIVersion = constants.DefaultGraphAPIVersion
	}
	if c.Meta.TimeoutSec <= 0 {
		c.Meta.TimeoutSec = constants.DefaultPlatformTimeoutSec
	}
	if c.Meta.RatePerSec <= 0 {
		c.Meta.RatePerSec = constants.DefaultPlatformRatePerSec
	}
	if c.Meta.Burst <= 0 {
		c.Meta.Burst = constants.DefaultPlatformBurst
	}

	if c.LinkedIn.OAuthURL == "" {
		c.LinkedIn.OAuthURL = constants.DefaultLinkedInOAuthURL
	}
	if c.LinkedIn.APIBaseURL == "" {
		c.LinkedIn.APIBaseURL = constants.DefaultLinkedInAPIBaseURL
	}
	if c.LinkedIn.TimeoutSec <= 0 {
		c.LinkedIn.TimeoutSec = constants.DefaultPlatformTimeoutSec
	}
	timeouts := []struct {
		field string
		sec   int
	}{
		{"server.read_timeout_sec", c.Server.ReadTimeoutSec},
		{"server.write_timeout_sec", c.Server.WriteTimeoutSec},
		{"server.idle_timeout_sec", c.Server.IdleTimeoutSec},
		{"meta.timeout_sec", c.Meta.TimeoutSec},
		{"linkedin.timeout_sec", c.LinkedIn.TimeoutSec},
	}
	for _, to := range timeouts {
		if err := validation.ValidateTimeout(to.sec, to.field); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}

	if c.LinkedIn.RatePerSec <= 0 {
		c.LinkedIn.RatePerSec = constants.DefaultPlatformRatePerSec
	}
	if c.LinkedIn.Burst <= 0 {
		c.LinkedIn.Burst = constants.DefaultPlatformBurst
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultUpstreamRetryAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "socialhub"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return ErrInvalidLogLevel
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	// SECURITY: secrets should come from the environment, not the config file
	if token := os.Getenv("SOCIALHUB_VERIFY_TOKEN"); token != "" {
		c.WhatsApp.VerifyToken = token
	}
	if secret := os.Getenv("SOCIALHUB_APP_SECRET"); secret != "" {
		c.WhatsApp.AppSecret = secret
	}
	if key := os.Getenv("SOCIALHUB_API_KEY"); key != "" {
		c.Server.APIKey = key
	}

	if id := os.Getenv("META_APP_ID"); id != "" {
		c.Meta.AppID = id
	}
	if secret := os.Getenv("META_APP_SECRET"); secret != "" {
		c.Meta.AppSecret = secret
	}
	if id := os.Getenv("LINKEDIN_CLIENT_ID"); id != "" {
		c.LinkedIn.ClientID = id
	}
	if secret := os.Getenv("LINKEDIN_CLIENT_SECRET"); secret != "" {
		c.LinkedIn.ClientSecret = secret
	}

	if dsn := os.Getenv("TOKEN_STORE_DSN"); dsn != "" {
		c.Tokens.StoreDSN = dsn
	}
	if dir := os.Getenv("LEDGER_DIR"); dir != "" {
		c.Ledger.Dir = dir
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = strings.ToLower(level)
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("SOCIALHUB_ENV") == "production"

	if isProduction {
		if c.WhatsApp.AppSecret == "" {
			return models.ConfigError{Message: "webhook app secret is required in production (set SOCIALHUB_APP_SECRET environment variable)"}
		}
		if len(c.WhatsApp.VerifyToken) < 16 {
			return models.ConfigError{Message: "webhook verify token must be at least 16 characters long"}
		}
		if c.LogLevel == "debug" || c.LogLevel == "trace" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.WhatsApp.AppSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook app secret not set. Set SOCIALHUB_APP_SECRET to verify %s signatures.\n", constants.WebhookSignatureHeader)
	}

	return nil
}
