// Package config defines the process configuration of the connector manager.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> *_FILE secret files -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"podconnect/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for redaction.
type SecretString = types.SecretString

// Config is the top-level configuration. Sub-components receive only the
// subset they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"connector-manager"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	Database      DatabaseConfig
	Crypto        CryptoConfig
	Collector     CollectorConfig
	Podigee       PodigeeConfig
	Dispatch      DispatchConfig
	Workers       WorkerConfig
	Observability ObservabilityConfig
	AWS           AWSConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds the credential store connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"5"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// CryptoConfig holds the passphrase for credential blobs.
type CryptoConfig struct {
	EncryptionKey SecretString `envconfig:"OPENPODCAST_ENCRYPTION_KEY" validate:"required"`
}

// CollectorConfig describes the downstream Open Podcast API.
type CollectorConfig struct {
	Endpoint         string        `envconfig:"OPENPODCAST_API_ENDPOINT" default:"https://api.openpodcast.dev" validate:"required,url"`
	Timeout          time.Duration `envconfig:"COLLECTOR_TIMEOUT" default:"30s"`
	HealthRetries    int           `envconfig:"COLLECTOR_HEALTH_RETRIES" default:"3" validate:"min=1"`
	HealthRetryDelay time.Duration `envconfig:"COLLECTOR_HEALTH_RETRY_DELAY" default:"10s"`
}

// PodigeeConfig holds the OAuth application used to refresh Podigee tokens.
// Client credentials are optional at load time; tasks needing a refresh fail
// with a credential error when they are absent.
type PodigeeConfig struct {
	ClientID     string       `envconfig:"PODIGEE_CLIENT_ID"`
	ClientSecret SecretString `envconfig:"PODIGEE_CLIENT_SECRET"`
	RedirectURI  string       `envconfig:"PODIGEE_REDIRECT_URI" default:"https://connect.openpodcast.app/auth/v1/podigee/callback" validate:"url"`
	TokenURL     string       `envconfig:"PODIGEE_TOKEN_URL" default:"https://app.podigee.com/oauth/token" validate:"url"`
	BaseURL      string       `envconfig:"PODIGEE_API_BASE_URL" default:"https://app.podigee.com/api/v1" validate:"url"`
}

// Dispatch modes.
const (
	ModeInline = "inline"
	ModeQueue  = "queue"
)

// DispatchConfig controls task scheduling, retries and timeouts.
type DispatchConfig struct {
	Mode        string        `envconfig:"DISPATCH_MODE" default:"inline" validate:"oneof=inline queue"`
	Schedule    string        `envconfig:"DISPATCH_SCHEDULE" default:"0 11 * * *"`
	Parallelism int           `envconfig:"DISPATCH_PARALLELISM" default:"1" validate:"min=1,max=32"`
	MaxRetries  int           `envconfig:"TASK_MAX_RETRIES" default:"3" validate:"min=0"`
	RetryDelay  time.Duration `envconfig:"TASK_RETRY_DELAY" default:"60s"`
	TaskTimeout time.Duration `envconfig:"TASK_TIMEOUT" default:"1h"`
	LockTTL     time.Duration `envconfig:"LOCK_TTL" default:"2h"`
}

// Pool strategies.
const (
	StrategyQueue       = "queue"
	StrategyCooperative = "cooperative"
)

// WorkerConfig sizes the per-task endpoint worker pools. The generic values
// apply to every source except Spotify, which has its own defaults.
type WorkerConfig struct {
	NumWorkers        int           `envconfig:"NUM_WORKERS" default:"1" validate:"min=1,max=64"`
	TaskDelay         time.Duration `envconfig:"TASK_DELAY" default:"0s"`
	Strategy          string        `envconfig:"POOL_STRATEGY" default:"queue" validate:"oneof=queue cooperative"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" default:"0" validate:"min=0"`

	SpotifyNumWorkers int           `envconfig:"SPOTIFY_NUM_WORKERS" default:"4" validate:"min=1,max=64"`
	SpotifyTaskDelay  time.Duration `envconfig:"SPOTIFY_TASK_DELAY" default:"1500ms"`
	SpotifyStrategy   string        `envconfig:"SPOTIFY_POOL_STRATEGY" default:"cooperative" validate:"oneof=queue cooperative"`
}

// PoolSettings is the resolved pool configuration for one source.
type PoolSettings struct {
	Workers           int
	Delay             time.Duration
	Strategy          string
	RequestsPerSecond float64
}

// ForSource resolves the pool settings for a source.
func (w WorkerConfig) ForSource(s types.Source) PoolSettings {
	if s == types.SourceSpotify {
		return PoolSettings{
			Workers:           w.SpotifyNumWorkers,
			Delay:             w.SpotifyTaskDelay,
			Strategy:          w.SpotifyStrategy,
			RequestsPerSecond: w.RequestsPerSecond,
		}
	}
	return PoolSettings{
		Workers:           w.NumWorkers,
		Delay:             w.TaskDelay,
		Strategy:          w.Strategy,
		RequestsPerSecond: w.RequestsPerSecond,
	}
}

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsNone       = "none"
)

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"OpenPodcast/Connectors"`
	HTTPAddr        string `envconfig:"METRICS_ADDR" default:":9090"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region       string `envconfig:"AWS_REGION" default:"eu-central-1"`
	TaskQueueURL string `envconfig:"SQS_TASK_QUEUE" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrSecretFile indicates a *_FILE secret could not be read.
	ErrSecretFile ConfigErrorType = "SECRET_FILE_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a value could not be parsed into its target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
