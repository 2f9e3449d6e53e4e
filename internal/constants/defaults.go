package constants

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	DefaultAPIRateLimit          = 120
	DefaultAPIRateWindowSec      = 60
	MaxAPIBodyBytes              = 64 << 10
)

// Message ledger limits
const (
	DefaultLedgerMaxMessages = 1000
	DefaultLedgerDir         = "data/ledger"
	LedgerFileExtension      = ".json"
)

// Webhook processing values
const (
	DefaultWebhookQueueSize      = 256
	DefaultWebhookInlineTimeoutS = 15
	MaxWebhookBodyBytes          = 1 << 20
	WhatsAppWebhookObject        = "whatsapp_business_account"
	WhatsAppMessagesField        = "messages"
	WebhookSignatureHeader       = "X-Hub-Signature-256"
)

// Live update hub values
const (
	DefaultSubscriberBuffer  = 64
	DefaultWSWriteTimeoutSec = 10
	DefaultWSPingIntervalSec = 30
	DefaultMaxSubscribers    = 256
)

// Token refresh defaults
const (
	DefaultRefreshIntervalHours = 24 * 7
	DefaultRefreshWakeMinutes   = 60
	DefaultTokenStoreDSN        = "file://data/tokens"
	LastRefreshRunMarker        = "last_refresh_run"
)

// Default timeout values
const (
	DefaultPlatformTimeoutSec    = 20
	DefaultPlatformRatePerSec    = 5
	DefaultPlatformBurst         = 10
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultUpstreamRetryAttempts = 3
	DefaultPostgresOpTimeoutSec  = 5
	DefaultConfigWatchDebounceMs = 100
)

// Platform API defaults
const (
	DefaultGraphAPIBaseURL    = "https://graph.facebook.com"
	DefaultGraphAPIVersion    = "v19.0"
	DefaultLinkedInOAuthURL   = "https://www.linkedin.com/oauth/v2"
	DefaultLinkedInAPIBaseURL = "https://api.linkedin.com/v2"
)

// Validation limits
const (
	MaxMessageIDLength   = 256
	MaxMessageTextLength = 4096
	MinPhoneNumberLength = 7
	MaxPhoneNumberLength = 20
	MaxTimeoutSec        = 3600
)

// Encryption constants
const (
	EncryptionSalt       = "socialhub-token-encryption-v1"
	EncryptionNonceSize  = 12
	EncryptionKeySize    = 32
	EncryptionIterations = 100000
)
