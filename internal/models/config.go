package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Ledger   LedgerConfig   `json:"ledger"`
	Tokens   TokenConfig    `json:"tokens"`
	Meta     MetaConfig     `json:"meta"`
	LinkedIn LinkedInConfig `json:"linkedin"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
	// Features overrides runtime flags by name, e.g. {"live_updates": false}
	Features map[string]bool `json:"features,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int      `json:"port"`
	ReadTimeoutSec  int      `json:"read_timeout_sec"`
	WriteTimeoutSec int      `json:"write_timeout_sec"`
	IdleTimeoutSec  int      `json:"idle_timeout_sec"`
	AllowedOrigins  []string `json:"allowed_origins"`
	// APIKey guards the /api/tokens routes when set
	APIKey string `json:"api_key,omitempty"`
}

// WhatsAppConfig holds webhook settings for the WhatsApp Cloud API
type WhatsAppConfig struct {
	VerifyToken string `json:"verify_token"`
	AppSecret   string `json:"app_secret"`
	QueueSize   int    `json:"queue_size"`
}

// LedgerConfig holds message ledger settings
type LedgerConfig struct {
	Dir         string `json:"dir"`
	MaxMessages int    `json:"max_messages"`
}

// TokenConfig holds credential store and refresh settings
type TokenConfig struct {
	StoreDSN             string `json:"store_dsn"`
	RefreshIntervalHours int    `json:"refresh_interval_hours"`
	WakeIntervalMinutes  int    `json:"wake_interval_minutes"`
	LegacyImportPath     string `json:"legacy_import_path"`
}

// MetaConfig holds Graph API (Facebook and Instagram) settings
type MetaConfig struct {
	AppID      string  `json:"app_id"`
	AppSecret  string  `json:"app_secret"`
	BaseURL    string  `json:"base_url"`
	APIVersion string  `json:"api_version"`
	TimeoutSec int     `json:"timeout_sec"`
	RatePerSec float64 `json:"rate_per_sec"`
	Burst      int     `json:"burst"`
}

// LinkedInConfig holds LinkedIn OAuth settings
type LinkedInConfig struct {
	ClientID     string  `json:"client_id"`
	ClientSecret string  `json:"client_secret"`
	OAuthURL     string  `json:"oauth_url"`
	APIBaseURL   string  `json:"api_base_url"`
	TimeoutSec   int     `json:"timeout_sec"`
	RatePerSec   float64 `json:"rate_per_sec"`
	Burst        int     `json:"burst"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
