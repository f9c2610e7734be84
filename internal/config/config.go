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
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string

	Tracking Tracking
	Registry Registry
	Batch    Batch
	Limits   Limits
	Circuit  Circuit
	Queue    Queue
	Obs      Obs
}

// Tracking tunes a single resolution.
type Tracking struct {
	AttemptTimeout   time.Duration
	CacheActiveTTL   time.Duration
	CacheTerminalTTL time.Duration
	SynonymsFile     string
	RequestLogBuffer int
}

// Registry controls where providers come from and how long snapshots live.
type Registry struct {
	RefreshTTL  time.Duration
	File        string
	FallThrough bool
}

type Batch struct {
	ChunkSize      int
	MaxConcurrency int
	MaxItems       int
}

// Limits are "<limit>-<period>" rates. Empty disables the limit.
// AsyncMax enqueues per AsyncWindow bound refresh jobs per organization;
// zero disables it.
type Limits struct {
	Provider    string
	API         string
	AsyncMax    int
	AsyncWindow time.Duration
}

type Circuit struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

type Queue struct {
	Concurrency int
	LockTTL     time.Duration
}

type Obs struct {
	LogFormat       string
	LogLevel        string
	LogFile         string
	TracingEnabled  bool
	TracingExporter string
	TracingEndpoint string
	SamplingRatio   float64
	MetricsEnabled  bool
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
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		Tracking: Tracking{
			AttemptTimeout:   parseDuration(k.String("TRACKING_ATTEMPT_TIMEOUT"), "20s"),
			CacheActiveTTL:   parseDuration(k.String("TRACKING_CACHE_ACTIVE_TTL"), "30m"),
			CacheTerminalTTL: parseDuration(k.String("TRACKING_CACHE_TERMINAL_TTL"), "168h"),
			SynonymsFile:     strings.TrimSpace(k.String("STATUS_SYNONYMS_FILE")),
			RequestLogBuffer: parseInt(k.String("REQUEST_LOG_BUFFER"), 1024),
		},
		Registry: Registry{
			RefreshTTL:  parseDuration(k.String("REGISTRY_REFRESH_TTL"), "5s"),
			File:        strings.TrimSpace(k.String("REGISTRY_FILE")),
			FallThrough: parseBool(k.String("REGISTRY_ORG_FALLTHROUGH")),
		},
		Batch: Batch{
			ChunkSize:      parseInt(k.String("BATCH_CHUNK_SIZE"), 10),
			MaxConcurrency: parseInt(k.String("BATCH_MAX_CONCURRENCY"), 5),
			MaxItems:       parseInt(k.String("BATCH_MAX_ITEMS"), 100),
		},
		Limits: Limits{
			Provider:    stringOrDefault(k, "PROVIDER_RATE_LIMIT", "60-M"),
			API:         stringOrDefault(k, "API_RATE_LIMIT", "120-M"),
			AsyncMax:    parseInt(k.String("ASYNC_REFRESH_LIMIT"), 10),
			AsyncWindow: parseDuration(k.String("ASYNC_REFRESH_WINDOW"), "1m"),
		},
		Circuit: Circuit{
			MinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
			FailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.6),
			OpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "1m"),
		},
		Queue: Queue{
			Concurrency: parseInt(k.String("QUEUE_CONCURRENCY"), 4),
			LockTTL:     parseDuration(k.String("LOCK_TTL"), "2m"),
		},
		Obs: Obs{
			LogFormat:       valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:        valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			LogFile:         strings.TrimSpace(k.String("OBS_LOG_FILE")),
			TracingEnabled:  parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter: valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			TracingEndpoint: strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
			SamplingRatio:   parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			MetricsEnabled:  parseBoolDefault(k.String("OBS_ENABLE_METRICS"), true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production requirements.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c *Config) validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required")
		}
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required")
		}
	}
	if c.Tracking.AttemptTimeout <= 0 {
		return errors.New("TRACKING_ATTEMPT_TIMEOUT must be positive")
	}
	if c.Tracking.CacheActiveTTL <= 0 {
		return errors.New("TRACKING_CACHE_ACTIVE_TTL must be positive")
	}
	if c.Tracking.CacheTerminalTTL < 0 {
		return errors.New("TRACKING_CACHE_TERMINAL_TTL must not be negative")
	}
	if c.Batch.ChunkSize <= 0 || c.Batch.MaxConcurrency <= 0 || c.Batch.MaxItems <= 0 {
		return errors.New("batch settings must be positive")
	}
	if c.Circuit.FailureRatio <= 0 || c.Circuit.FailureRatio > 1 {
		return errors.New("CIRCUIT_FAILURE_RATIO must be in (0,1]")
	}
	return nil
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
		return value
	}
	return fallback
}

// stringOrDefault distinguishes an unset key from one explicitly set empty.
func stringOrDefault(k *koanf.Koanf, key, fallback string) string {
	if !k.Exists(key) {
		return fallback
	}
	return strings.TrimSpace(k.String(key))
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

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
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
