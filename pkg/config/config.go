package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
	"github.com/platinummonkey/gatehouse/pkg/storage/redisclient"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database postgres.Config

	// Redis configuration (optional, permission cache)
	Redis redisclient.Config

	// Invitation engine configuration
	Invitations InvitationConfig

	// Permission cache configuration
	Cache CacheConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// InvitationConfig holds invitation engine settings
type InvitationConfig struct {
	// DefaultTTL is the pending lifetime applied when a create request
	// gives no explicit expiry.
	DefaultTTL time.Duration

	// PurgeSchedule is a cron expression for purging long-expired
	// invitation rows. Empty disables the purge job; expiry semantics
	// never depend on it.
	PurgeSchedule string

	// PurgeRetention is how long expired rows are kept before purge.
	PurgeRetention time.Duration

	// PrimaryOnFirstJoin marks a membership primary when it is the
	// user's first organization.
	PrimaryOnFirstJoin bool
}

// CacheConfig holds permission cache settings
type CacheConfig struct {
	Enabled   bool
	TTL       time.Duration
	LocalSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Invitations:   loadInvitationConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() postgres.Config {
	cfg := postgres.DefaultConfig()
	cfg.URL = getEnv("GATEHOUSE_POSTGRES_URL", "")
	if maxConns := getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("GATEHOUSE_POSTGRES_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if lifetime := getEnvDuration("GATEHOUSE_POSTGRES_CONN_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	if timeout := getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.ConnectTimeout = timeout
	}
	return cfg
}

func loadRedisConfig() redisclient.Config {
	cfg := redisclient.DefaultConfig()
	cfg.URL = getEnv("GATEHOUSE_REDIS_URL", "")
	cfg.Password = getEnv("GATEHOUSE_REDIS_PASSWORD", "")
	if db := getEnvInt("GATEHOUSE_REDIS_DB", -1); db >= 0 {
		cfg.DB = db
	}
	if maxRetries := getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 0); maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}
	if poolSize := getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.PoolSize = poolSize
	}
	return cfg
}

func loadInvitationConfig() InvitationConfig {
	return InvitationConfig{
		DefaultTTL:         getEnvDuration("GATEHOUSE_INVITATION_TTL", 72*time.Hour),
		PurgeSchedule:      getEnv("GATEHOUSE_INVITATION_PURGE_SCHEDULE", "0 3 * * *"),
		PurgeRetention:     getEnvDuration("GATEHOUSE_INVITATION_PURGE_RETENTION", 30*24*time.Hour),
		PrimaryOnFirstJoin: getEnvBool("GATEHOUSE_PRIMARY_ON_FIRST_JOIN", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   getEnvBool("GATEHOUSE_CACHE_ENABLED", true),
		TTL:       getEnvDuration("GATEHOUSE_CACHE_TTL", 5*time.Minute),
		LocalSize: getEnvInt("GATEHOUSE_CACHE_LOCAL_SIZE", 4096),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Invitations.DefaultTTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Invitations.PurgeSchedule != "" && c.Invitations.PurgeRetention <= 0 {
		return fmt.Errorf("invitation purge retention must be positive when purging is enabled")
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
