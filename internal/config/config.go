// Package config provides environment-based configuration for the platform.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings for the security operations core.
type Config struct {
	// Service identification
	ServiceName string
	Environment string
	Version     string

	// HTTP server
	HTTPPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Observability
	LogLevel  string
	LogFormat string

	// Threat intelligence
	FeedConfigPath   string
	FeedPollInterval time.Duration
	IOCRetention     time.Duration

	// SIEM alert intake
	SIEMConfigPath string

	// SOAR engine
	PlaybookDir        string
	QueueCapacity      int
	DrainInterval      time.Duration
	MaxConcurrentRuns  int
	DefaultStepTimeout time.Duration

	// Zero trust
	PolicyPath           string
	TrustRefreshInterval time.Duration
	BaselineRefresh      time.Duration
	DefaultDecision      string // "allow" or "deny" when no policy matches
	GeoIPDBPath          string

	// Directory (LDAP)
	LDAPAddr     string
	LDAPBaseDN   string
	LDAPBindDN   string
	LDAPPassword string
	LDAPUseTLS   bool

	// Escalation / notifications
	EscalationSweepInterval time.Duration
	EmailWebhookURL         string
	SlackWebhookURL         string
	TeamsWebhookURL         string

	// Storage backends (optional; memory fallback when unset)
	PostgresDSN   string
	ClickHouseDSN string
	RedisDSN      string

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	TelemetryTopic  string
	ReportTopic     string
	EscalationTopic string

	// Report archive
	S3Bucket   string
	S3Region   string
	S3Endpoint string
}

// Load creates a Config from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "secops-core"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Version:     getEnv("VERSION", "0.0.0"),

		HTTPPort:     getEnvAsInt("HTTP_PORT", 8080),
		ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		FeedConfigPath:   getEnv("FEED_CONFIG_PATH", "configs/feeds.yaml"),
		FeedPollInterval: getEnvAsDuration("FEED_POLL_INTERVAL", 5*time.Minute),
		IOCRetention:     getEnvAsDuration("IOC_RETENTION", 30*24*time.Hour),

		SIEMConfigPath: getEnv("SIEM_CONFIG_PATH", ""),

		PlaybookDir:        getEnv("PLAYBOOK_DIR", "configs/playbooks"),
		QueueCapacity:      getEnvAsInt("QUEUE_CAPACITY", 1000),
		DrainInterval:      getEnvAsDuration("DRAIN_INTERVAL", 500*time.Millisecond),
		MaxConcurrentRuns:  getEnvAsInt("MAX_CONCURRENT_RUNS", 10),
		DefaultStepTimeout: getEnvAsDuration("DEFAULT_STEP_TIMEOUT", 30*time.Second),

		PolicyPath:           getEnv("ZT_POLICY_PATH", ""),
		TrustRefreshInterval: getEnvAsDuration("ZT_TRUST_REFRESH", time.Minute),
		BaselineRefresh:      getEnvAsDuration("ZT_BASELINE_REFRESH", time.Hour),
		DefaultDecision:      getEnv("ZT_DEFAULT_DECISION", "allow"),
		GeoIPDBPath:          getEnv("GEOIP_DB_PATH", ""),

		LDAPAddr:     getEnv("LDAP_ADDR", ""),
		LDAPBaseDN:   getEnv("LDAP_BASE_DN", ""),
		LDAPBindDN:   getEnv("LDAP_BIND_DN", ""),
		LDAPPassword: getEnv("LDAP_PASSWORD", ""),
		LDAPUseTLS:   getEnvAsBool("LDAP_USE_TLS", true),

		EscalationSweepInterval: getEnvAsDuration("ESCALATION_SWEEP_INTERVAL", 30*time.Second),
		EmailWebhookURL:         getEnv("EMAIL_WEBHOOK_URL", ""),
		SlackWebhookURL:         getEnv("SLACK_WEBHOOK_URL", ""),
		TeamsWebhookURL:         getEnv("TEAMS_WEBHOOK_URL", ""),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),
		RedisDSN:      getEnv("REDIS_DSN", ""),

		KafkaBrokers:    getEnvAsSlice("KAFKA_BROKERS", nil),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "secops-core"),
		TelemetryTopic:  getEnv("TELEMETRY_TOPIC", "security.events.raw"),
		ReportTopic:     getEnv("REPORT_TOPIC", "security.reports"),
		EscalationTopic: getEnv("ESCALATION_TOPIC", "security.escalations"),

		S3Bucket:   getEnv("REPORT_S3_BUCKET", ""),
		S3Region:   getEnv("REPORT_S3_REGION", "us-east-1"),
		S3Endpoint: getEnv("REPORT_S3_ENDPOINT", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive")
	}
	if c.DefaultDecision != "allow" && c.DefaultDecision != "deny" {
		return fmt.Errorf("ZT_DEFAULT_DECISION must be allow or deny")
	}
	if c.Environment == "production" {
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required in production")
		}
		if c.GeoIPDBPath == "" {
			return fmt.Errorf("GEOIP_DB_PATH is required in production")
		}
	}
	return nil
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
