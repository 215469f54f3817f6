package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults tests that Load fills sensible defaults when the
// environment is empty.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secops-core", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 1000, cfg.QueueCapacity)
	assert.Equal(t, 500*time.Millisecond, cfg.DrainInterval)
	assert.Equal(t, 5*time.Minute, cfg.FeedPollInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.IOCRetention)
	assert.Equal(t, "allow", cfg.DefaultDecision)
	assert.Equal(t, 30*time.Second, cfg.EscalationSweepInterval)
	assert.True(t, cfg.LDAPUseTLS)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, "security.events.raw", cfg.TelemetryTopic)
	assert.False(t, cfg.IsProduction())
}

// TestLoadFromEnvironment tests that environment variables override the
// defaults.
func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVICE_NAME", "secops-staging")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DRAIN_INTERVAL", "250ms")
	t.Setenv("QUEUE_CAPACITY", "50")
	t.Setenv("LDAP_USE_TLS", "false")
	t.Setenv("ZT_DEFAULT_DECISION", "deny")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092 ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secops-staging", cfg.ServiceName)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.DrainInterval)
	assert.Equal(t, 50, cfg.QueueCapacity)
	assert.False(t, cfg.LDAPUseTLS)
	assert.Equal(t, "deny", cfg.DefaultDecision)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

// TestLoadMalformedValuesFallBack tests that unparseable values fall back
// to defaults instead of failing.
func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("READ_TIMEOUT", "soon")
	t.Setenv("LDAP_USE_TLS", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.True(t, cfg.LDAPUseTLS)
}

// TestValidate tests the configuration invariants.
func TestValidate(t *testing.T) {
	t.Run("rejects non-positive queue capacity", func(t *testing.T) {
		t.Setenv("QUEUE_CAPACITY", "0")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUEUE_CAPACITY")
	})

	t.Run("rejects unknown default decision", func(t *testing.T) {
		t.Setenv("ZT_DEFAULT_DECISION", "quarantine")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ZT_DEFAULT_DECISION")
	})

	t.Run("production requires backing stores", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "production")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "POSTGRES_DSN")

		t.Setenv("POSTGRES_DSN", "postgres://secops:secops@db:5432/secops")
		_, err = Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GEOIP_DB_PATH")

		t.Setenv("GEOIP_DB_PATH", "/var/lib/geoip/GeoLite2-City.mmdb")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.IsProduction())
	})
}
