package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/lumenpay/backend-pay/internal/domain"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string `validate:"required"`
	OpsPort     string
	DatabaseURL string `validate:"required"`
	RedisURL    string `validate:"required"`

	HorizonURL        string             `validate:"required,url"`
	LedgerAccount     string             `validate:"required"`
	LedgerEnvironment domain.Environment `validate:"required,oneof=testnet mainnet"`

	LedgerTimeout     time.Duration
	LedgerMaxAttempts int

	WebhookTimeout     time.Duration
	WebhookMaxAttempts int
	WebhookBackoffBase time.Duration
	WebhookJitter      float64

	ReplayTTL time.Duration

	TracingEnabled     bool
	TracingEndpoint    string
	TracingSampleRatio float64

	CircuitLedgerMinReq      int
	CircuitLedgerFailureRate float64
	CircuitLedgerOpenFor     time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		OpsPort:     valueOrDefault(k.String("OPS_PORT"), "9090"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		HorizonURL:        valueOrDefault(k.String("HORIZON_URL"), "https://horizon-testnet.stellar.org"),
		LedgerAccount:     k.String("LEDGER_ACCOUNT"),
		LedgerEnvironment: domain.Environment(valueOrDefault(k.String("LEDGER_ENVIRONMENT"), string(domain.EnvTestnet))),

		LedgerTimeout:     parseDuration(k.String("LEDGER_TIMEOUT"), "15s"),
		LedgerMaxAttempts: intOrDefault(k.Int("LEDGER_MAX_ATTEMPTS"), 3),

		WebhookTimeout:     parseDuration(k.String("WEBHOOK_TIMEOUT"), "10s"),
		WebhookMaxAttempts: intOrDefault(k.Int("WEBHOOK_MAX_ATTEMPTS"), 3),
		WebhookBackoffBase: parseDuration(k.String("WEBHOOK_BACKOFF_BASE"), "500ms"),
		WebhookJitter:      floatOrDefault(k.Float64("WEBHOOK_JITTER"), 0.2),

		ReplayTTL: parseDuration(k.String("REPLAY_TTL"), "24h"),

		TracingEnabled:     k.Bool("OBS_TRACING_ENABLED"),
		TracingEndpoint:    k.String("OBS_OTLP_ENDPOINT"),
		TracingSampleRatio: floatOrDefault(k.Float64("OBS_TRACE_SAMPLE_RATIO"), 1),

		CircuitLedgerMinReq:      intOrDefault(k.Int("CIRCUIT_LEDGER_MIN_REQ"), 10),
		CircuitLedgerFailureRate: floatOrDefault(k.Float64("CIRCUIT_LEDGER_FAILURE_RATE"), 0.5),
		CircuitLedgerOpenFor:     parseDuration(k.String("CIRCUIT_LEDGER_OPEN_FOR"), "30s"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// OpsAddr returns the address the internal ops HTTP server should bind to.
func (c *Config) OpsAddr() string {
	port := strings.TrimSpace(c.OpsPort)
	if port == "" {
		port = "9090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
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
