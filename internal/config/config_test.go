package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultFeePct, cfg.PlatformFeePct)
	assert.Equal(t, DefaultKafkaTopic, cfg.KafkaTopic)
	assert.Equal(t, DefaultRetention, cfg.ArchiveRetentionDays)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "PLATFORM_FEE_PCT", "0.15")
	setEnv(t, "KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	setEnv(t, "ARCHIVE_RETENTION_DAYS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "0.15", cfg.PlatformFeePct)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30, cfg.ArchiveRetentionDays)
}

func TestValidate_ProductionRequiresStripeKey(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "STRIPE_API_KEY", "")

	_, err := Load()
	assert.Error(t, err)

	setEnv(t, "STRIPE_API_KEY", "sk_test_123")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestValidate_RetentionMustBePositive(t *testing.T) {
	setEnv(t, "ARCHIVE_RETENTION_DAYS", "-1")

	_, err := Load()
	assert.Error(t, err)
}
