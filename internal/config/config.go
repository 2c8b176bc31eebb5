package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Impersonation backends
const (
	ImpersonationMemory = "memory"
	ImpersonationRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Authz         AuthzConfig
	Impersonation ImpersonationConfig
	Billing       BillingConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL          string
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration
}

// AuthzConfig tunes authorization lookups
type AuthzConfig struct {
	// RoleCacheTTL also bounds how long a revoked platform role stays
	// effective on instances other than the one that revoked it.
	RoleCacheTTL   time.Duration
	RoleCacheSize  int
	RequestTimeout time.Duration
}

// ImpersonationConfig selects where impersonation sessions live
type ImpersonationConfig struct {
	Backend  string
	RedisURL string
}

// BillingConfig holds Stripe configuration
type BillingConfig struct {
	StripeAPIKey     string
	WebhookSecret    string
	AllowUnverified  bool
	WebhookTolerance time.Duration
	CatalogFile      string
	ProPriceID       string
	AdvancedPriceID  string
	SeatPriceID      string
	SeatPricePlan    string
	SuccessURL       string
	CancelURL        string
	InvitationTTL    time.Duration
}

// ObservabilityConfig holds logging, tracing and metrics configuration
type ObservabilityConfig struct {
	LogLevel        string
	LogFormat       string
	OTELEnabled     bool
	MetricsEnabled  bool
	ServiceName     string
	ServiceVersion  string
	TraceSampleRate float64
}

// Load loads configuration from environment variables. A .env file in the
// working directory, if present, fills variables that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:    parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:     parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: parseDuration("SERVER_SHUTDOWN_TIMEOUT", "10s"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "portalcore"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "portalcore"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: parseInt("DB_MAX_IDLE_CONNS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:   getEnv("AUTH_JWT_ISSUER", ""),
			JWTAudience: getEnv("AUTH_JWT_AUDIENCE", ""),
			JWTLeeway:   parseDuration("AUTH_JWT_LEEWAY", "30s"),
		},
		Authz: AuthzConfig{
			RoleCacheTTL:   parseDuration("AUTHZ_ROLE_CACHE_TTL", "30s"),
			RoleCacheSize:  parseInt("AUTHZ_ROLE_CACHE_SIZE", 4096),
			RequestTimeout: parseDuration("AUTHZ_REQUEST_TIMEOUT", "10s"),
		},
		Impersonation: ImpersonationConfig{
			Backend:  strings.ToLower(getEnv("IMPERSONATION_BACKEND", ImpersonationMemory)),
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Billing: BillingConfig{
			StripeAPIKey:     getEnv("STRIPE_API_KEY", ""),
			WebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
			AllowUnverified:  parseBool("BILLING_ALLOW_UNVERIFIED", false),
			WebhookTolerance: parseDuration("STRIPE_WEBHOOK_TOLERANCE", "5m"),
			CatalogFile:      getEnv("BILLING_CATALOG_FILE", ""),
			ProPriceID:       getEnv("STRIPE_PRICE_PRO", ""),
			AdvancedPriceID:  getEnv("STRIPE_PRICE_ADVANCED", ""),
			SeatPriceID:      getEnv("STRIPE_PRICE_SEAT", ""),
			SeatPricePlan:    getEnv("STRIPE_PRICE_SEAT_PLAN", "pro"),
			SuccessURL:       getEnv("BILLING_SUCCESS_URL", ""),
			CancelURL:        getEnv("BILLING_CANCEL_URL", ""),
			InvitationTTL:    parseDuration("INVITATION_TTL", "168h"),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			LogFormat:       getEnv("LOG_FORMAT", "json"),
			OTELEnabled:     parseBool("OTEL_ENABLED", false),
			MetricsEnabled:  parseBool("OTEL_METRICS_ENABLED", false),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "portalcore"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			TraceSampleRate: parseFloat("OTEL_TRACE_SAMPLE_RATE", 1.0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" && c.Database.Password == "" {
			errs = append(errs, errors.New("DATABASE_URL or DB_PASSWORD is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store.Driver))
	}

	switch c.Impersonation.Backend {
	case ImpersonationMemory:
	case ImpersonationRedis:
		if c.Impersonation.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis impersonation backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("IMPERSONATION_BACKEND must be %q or %q, got %q", ImpersonationMemory, ImpersonationRedis, c.Impersonation.Backend))
	}

	if c.Billing.AllowUnverified && c.Billing.WebhookSecret != "" {
		errs = append(errs, errors.New("BILLING_ALLOW_UNVERIFIED cannot be combined with STRIPE_WEBHOOK_SECRET"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATELIMIT_RPS and RATELIMIT_BURST must be positive"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
