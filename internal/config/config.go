// Package config defines the global configuration structure for the CraveMap
// entitlement service. Configuration is loaded once at process initialization
// and is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// All policy constants that govern entitlement and quota decisions (grace
// window, trial window, search limits, admin codes) live here and are injected
// into the components that need them. Nothing in the decision path reads
// ambient process state.
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"github.com/sowhat82/cravemap/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the entitlement service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"cravemap-entitlementd"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Store         StoreConfig
	Billing       BillingConfig
	Entitlement   EntitlementConfig
	Quota         QuotaConfig
	Admin         AdminConfig
	Completion    CompletionConfig
	Places        PlacesConfig
	Observability ObservabilityConfig
	Backup        BackupConfig

	// Build Metadata (injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// StoreConfig selects and tunes the persistent record store backend.
// The file and postgres backends implement the same store contract; the
// service treats them as one abstract store.
type StoreConfig struct {
	// Backend selects the record store implementation: "file" or "postgres".
	Backend string `envconfig:"STORE_BACKEND" default:"file" validate:"oneof=file postgres"`

	// File backend
	DataDir string `envconfig:"STORE_DATA_DIR" default:"./data/users"`

	// Postgres backend
	DatabaseURL       SecretString  `envconfig:"DATABASE_URL"`
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds the billing oracle (Stripe) integration settings.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	// OracleTimeout bounds the synchronous subscription-status lookup made
	// during entitlement reconciliation. On timeout the evaluator falls back
	// to the local date-based judgment.
	OracleTimeout time.Duration `envconfig:"BILLING_ORACLE_TIMEOUT" default:"5s"`
}

// EntitlementConfig holds the expiry policy for premium and trial access.
type EntitlementConfig struct {
	// GraceWindow is the maximum age of an unreconfirmed premium grant:
	// a monthly billing cycle plus a few days of slack for provider
	// outages. Past this window premium is revoked regardless of oracle
	// reachability.
	GraceWindow time.Duration `envconfig:"PREMIUM_GRACE_WINDOW" default:"840h"` // 35 days
	// TrialWindow is the duration of the one-shot free trial.
	TrialWindow time.Duration `envconfig:"TRIAL_WINDOW" default:"168h"` // 7 days
}

// QuotaConfig holds the admission limits per access tier.
type QuotaConfig struct {
	MonthlyFreeLimit    int `envconfig:"QUOTA_MONTHLY_FREE" default:"5" validate:"min=1"`
	TrialDailyLimit     int `envconfig:"QUOTA_TRIAL_DAILY" default:"20" validate:"min=1"`
	AnonymousDailyLimit int `envconfig:"QUOTA_ANON_DAILY" default:"2" validate:"min=1"`
}

// AdminConfig holds the promo codes and the admin API credential.
// Promo codes are compared in constant time; the admin API key is stored
// only as a bcrypt hash.
type AdminConfig struct {
	GrantCode  SecretString `envconfig:"PROMO_GRANT_CODE"`
	RevokeCode SecretString `envconfig:"PROMO_REVOKE_CODE"`
	ResetCode  SecretString `envconfig:"PROMO_RESET_CODE"`
	TrialCode  SecretString `envconfig:"PROMO_TRIAL_CODE"`
	APIKeyHash SecretString `envconfig:"ADMIN_API_KEY_HASH"`
}

// CompletionConfig holds the LLM completion collaborator settings.
// Models are tried in order; the first non-empty successful response wins.
type CompletionConfig struct {
	BaseURL         string       `envconfig:"COMPLETION_BASE_URL" default:"https://openrouter.ai/api"`
	APIKey          SecretString `envconfig:"COMPLETION_API_KEY"`
	Models          []string     `envconfig:"COMPLETION_MODELS" default:"deepseek/deepseek-chat,google/gemini-flash-1.5,meta-llama/llama-3.1-8b-instruct"`
	FallbackMessage string       `envconfig:"COMPLETION_FALLBACK_MESSAGE" default:"All models are currently unavailable or rate-limited. Please try again later."`
	Timeout         time.Duration `envconfig:"COMPLETION_TIMEOUT" default:"30s"`
}

// PlacesConfig holds the venue lookup collaborator settings.
type PlacesConfig struct {
	BaseURL string       `envconfig:"PLACES_BASE_URL" default:"https://maps.googleapis.com/maps/api/place"`
	APIKey  SecretString `envconfig:"PLACES_API_KEY"`
	Timeout time.Duration `envconfig:"PLACES_TIMEOUT" default:"10s"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CraveMap"`
	// MetricsEnabled gates CloudWatch emission; when false the no-op
	// collector is used (local development, tests).
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	AWSRegion      string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// BackupConfig holds the record store snapshot settings.
type BackupConfig struct {
	Dir    string `envconfig:"BACKUP_DIR" default:"./data/backups"`
	Retain int    `envconfig:"BACKUP_RETAIN" default:"10" validate:"min=1"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
