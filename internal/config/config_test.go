package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenpay/backend-pay/internal/config"
	"github.com/lumenpay/backend-pay/internal/domain"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":       "postgres://localhost:5432/pay",
		"REDIS_URL":          "redis://localhost:6379",
		"LEDGER_ACCOUNT":     "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
		"LEDGER_ENVIRONMENT": "testnet",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "https://horizon-testnet.stellar.org", cfg.HorizonURL)
	require.Equal(t, domain.EnvTestnet, cfg.LedgerEnvironment)
	require.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	require.Equal(t, 3, cfg.WebhookMaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.WebhookBackoffBase)
	require.Equal(t, ":9090", cfg.OpsAddr())
	require.False(t, cfg.TracingEnabled)
	require.Equal(t, 1.0, cfg.TracingSampleRatio)
}

func TestLoadTracingSettings(t *testing.T) {
	env := baseEnv()
	env["OBS_TRACING_ENABLED"] = "true"
	env["OBS_OTLP_ENDPOINT"] = "http://collector:4318"
	env["OBS_TRACE_SAMPLE_RATIO"] = "0.25"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.True(t, cfg.TracingEnabled)
	require.Equal(t, "http://collector:4318", cfg.TracingEndpoint)
	require.Equal(t, 0.25, cfg.TracingSampleRatio)
}

func TestLoadRequiresLedgerAccount(t *testing.T) {
	env := baseEnv()
	env["LEDGER_ACCOUNT"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	env := baseEnv()
	env["LEDGER_ENVIRONMENT"] = "staging"
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["WEBHOOK_TIMEOUT"] = "3s"
	env["WEBHOOK_MAX_ATTEMPTS"] = "5"
	env["OPS_PORT"] = "8088"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	require.Equal(t, 5, cfg.WebhookMaxAttempts)
	require.Equal(t, ":8088", cfg.OpsAddr())
}
