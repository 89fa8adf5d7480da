package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Catalogue sources.
const (
	SourceFixture  = "fixture"
	SourcePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	Strategy        string
	StrategyTaxRate decimal.Decimal
	Currency        string

	BasketTTL         time.Duration
	BasketMaxQuantity int
	IdempotencyTTL    time.Duration

	CatalogSource  string
	CatalogFixture string
	OffersFixture  string

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	QueueRedisPrefix       string
	QueueConcurrency       int
	QueueVisibilityTimeout time.Duration
	QueueBackoffBase       time.Duration
	QueueMaxAttempts       int

	ShippingBands         string
	ShippingFlatRate      decimal.Decimal
	ShippingDefaultWeight *decimal.Decimal

	AuthJWTSecret       string
	AuthJWTIssuer       string
	AuthJWTAudience     string
	AuthClockSkew       time.Duration
	AuthTrustUserHeader bool

	RateLimit          string
	BasketRateWindow   time.Duration
	BasketRateMax      int
	BodyLimitBytes     int64
	HSTSMaxAge         int
	MetricsNamespace   string
	LogFormat          string
	LogLevel           string
	TracingExporter    string
	TracingEndpoint    string
	TracingSampling    float64
	HealthCheckTimeout time.Duration

	AuditEnabled      bool
	AuditSamplingRate float64

	MailFrom       string
	MigrationsAuto bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		Strategy: strings.ToLower(valueOrDefault(k.String("STRATEGY"), "default")),
		Currency: strings.ToUpper(valueOrDefault(k.String("CURRENCY"), "GBP")),

		BasketTTL:         parseDuration(k.String("BASKET_TTL"), "168h"),
		BasketMaxQuantity: parseInt(k.String("BASKET_MAX_QUANTITY"), 0),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		CatalogSource:  strings.ToLower(valueOrDefault(k.String("CATALOG_SOURCE"), SourceFixture)),
		CatalogFixture: valueOrDefault(k.String("CATALOG_FIXTURE"), "fixtures/catalog.yaml"),
		OffersFixture:  valueOrDefault(k.String("OFFERS_FIXTURE"), "fixtures/offers.yaml"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),

		QueueRedisPrefix:       valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "queue"),
		QueueConcurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		QueueVisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueBackoffBase:       parseDuration(k.String("QUEUE_BACKOFF_BASE"), "2s"),
		QueueMaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 5),

		ShippingBands: strings.TrimSpace(k.String("SHIPPING_WEIGHT_BANDS")),

		AuthJWTSecret:       strings.TrimSpace(k.String("AUTH_JWT_SECRET")),
		AuthJWTIssuer:       strings.TrimSpace(k.String("AUTH_JWT_ISSUER")),
		AuthJWTAudience:     strings.TrimSpace(k.String("AUTH_JWT_AUDIENCE")),
		AuthClockSkew:       parseDuration(k.String("AUTH_CLOCK_SKEW"), "30s"),
		AuthTrustUserHeader: parseBoolDefault(k.String("AUTH_TRUST_USER_HEADER"), true),

		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "600-M"),
		BasketRateWindow:   parseDuration(k.String("BASKET_RATE_WINDOW"), "1m"),
		BasketRateMax:      parseInt(k.String("BASKET_RATE_MAX"), 60),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		HSTSMaxAge:         parseInt(k.String("HSTS_MAX_AGE"), 0),
		MetricsNamespace:   valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko_offers"),
		LogFormat:          strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
		LogLevel:           strings.ToLower(valueOrDefault(k.String("OBS_LOG_LEVEL"), "info")),
		TracingExporter:    strings.ToLower(valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none")),
		TracingEndpoint:    strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		HealthCheckTimeout: parseDuration(k.String("HEALTH_CHECK_TIMEOUT"), "500ms"),

		AuditEnabled: parseBoolDefault(k.String("AUDIT_ENABLED"), true),

		MailFrom:       valueOrDefault(k.String("MAIL_FROM"), "no-reply@toko.local"),
		MigrationsAuto: parseBool(k.String("MIGRATIONS_AUTO")),
	}

	var err error
	if cfg.StrategyTaxRate, err = parseDecimal(k.String("STRATEGY_TAX_RATE"), "0.20"); err != nil {
		return nil, fmt.Errorf("STRATEGY_TAX_RATE: %w", err)
	}
	if cfg.ShippingFlatRate, err = parseDecimal(k.String("SHIPPING_FLAT_RATE"), "0"); err != nil {
		return nil, fmt.Errorf("SHIPPING_FLAT_RATE: %w", err)
	}
	if raw := strings.TrimSpace(k.String("SHIPPING_DEFAULT_WEIGHT")); raw != "" {
		w, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("SHIPPING_DEFAULT_WEIGHT: %w", err)
		}
		cfg.ShippingDefaultWeight = &w
	}

	if cfg.TracingSampling, err = strconv.ParseFloat(valueOrDefault(k.String("OBS_TRACING_SAMPLING_RATIO"), "1"), 64); err != nil {
		return nil, fmt.Errorf("OBS_TRACING_SAMPLING_RATIO: %w", err)
	}

	if cfg.AuditSamplingRate, err = strconv.ParseFloat(valueOrDefault(k.String("AUDIT_SAMPLING_RATE"), "1"), 64); err != nil {
		return nil, fmt.Errorf("AUDIT_SAMPLING_RATE: %w", err)
	}

	switch cfg.CatalogSource {
	case SourceFixture:
	case SourcePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when CATALOG_SOURCE=postgres")
		}
	default:
		return nil, fmt.Errorf("CATALOG_SOURCE must be %q or %q", SourceFixture, SourcePostgres)
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BasketMaxQuantity < 0 {
		return nil, errors.New("BASKET_MAX_QUANTITY cannot be negative")
	}
	if cfg.AppEnv == "production" && cfg.AuthJWTSecret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required in production")
	}
	if cfg.TracingSampling < 0 || cfg.TracingSampling > 1 {
		return nil, errors.New("OBS_TRACING_SAMPLING_RATIO must be between 0 and 1")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseDecimal(value, fallback string) (decimal.Decimal, error) {
	return decimal.NewFromString(valueOrDefault(value, fallback))
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
