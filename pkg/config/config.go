package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Audit configuration
	Audit AuditConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// UserHeader carries the acting user id; empty disables it
	UserHeader string
	// TrustProxies takes the client IP from X-Forwarded-For / X-Real-IP
	TrustProxies bool
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
	OTelSampleRatio    float64
}

// AuditConfig holds the defaults applied to every auditable type
type AuditConfig struct {
	DefaultDriver string
	Resolver      string

	// PolicyFile is the YAML file with per-type policies; empty means every
	// type uses the defaults
	PolicyFile  string
	WatchPolicy bool

	// StrictTypes rejects entity types without a policy
	StrictTypes bool

	// Threshold applied to types without their own
	Threshold int

	Retention audit.RetentionPolicy

	CatalogSize int
	CatalogTTL  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Audit:         loadAuditConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TALLY_HOST", "0.0.0.0"),
		Port:            getEnv("TALLY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TALLY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TALLY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TALLY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TALLY_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TALLY_MAX_BODY_BYTES", 1<<20),
		UserHeader:      getEnv("TALLY_USER_HEADER", audit.HeaderUserID),
		TrustProxies:    getEnvBool("TALLY_TRUST_PROXIES", false),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// Database config
	cfg.DatabaseURL = getEnv("TALLY_DATABASE_URL", "")
	cfg.DatabaseDriver = getEnv("TALLY_DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseTable = getEnv("TALLY_DATABASE_TABLE", "")
	if maxConns := getEnvInt("TALLY_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("TALLY_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("TALLY_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	// File config
	cfg.FilePath = getEnv("TALLY_FILE_PATH", "")
	if maxSize := getEnvInt64("TALLY_FILE_MAX_SIZE", 0); maxSize > 0 {
		cfg.FileMaxSize = maxSize
	}
	if maxFiles := getEnvInt("TALLY_FILE_MAX_FILES", 0); maxFiles > 0 {
		cfg.FileMaxFiles = maxFiles
	}
	cfg.FileSync = getEnvBool("TALLY_FILE_SYNC", false)

	// Redis config
	cfg.RedisURL = getEnv("TALLY_REDIS_URL", "")
	cfg.RedisPassword = getEnv("TALLY_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("TALLY_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("TALLY_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("TALLY_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.RedisPrefix = getEnv("TALLY_REDIS_PREFIX", "")

	// S3 config
	cfg.S3Endpoint = getEnv("TALLY_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("TALLY_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("TALLY_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("TALLY_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("TALLY_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("TALLY_S3_USE_PATH_STYLE", false)
	cfg.S3Prefix = getEnv("TALLY_S3_PREFIX", "")
	cfg.S3CreateBucket = getEnvBool("TALLY_S3_CREATE_BUCKET", false)

	cfg.MultiDrivers = getEnvList("TALLY_MULTI_DRIVERS")

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TALLY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TALLY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TALLY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TALLY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TALLY_OTEL_SERVICE_NAME", "tally"),
		OTelServiceVersion: getEnv("TALLY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TALLY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TALLY_OTEL_SAMPLE_RATIO", 1),
	}
}

// loadAuditConfig loads audit defaults from environment
func loadAuditConfig() AuditConfig {
	retention := audit.DefaultRetentionPolicy()
	return AuditConfig{
		DefaultDriver: getEnv("TALLY_AUDIT_DRIVER", audit.DriverMemory),
		Resolver:      getEnv("TALLY_AUDIT_RESOLVER", audit.ResolverContext),
		PolicyFile:    getEnv("TALLY_POLICY_FILE", ""),
		WatchPolicy:   getEnvBool("TALLY_POLICY_WATCH", true),
		StrictTypes:   getEnvBool("TALLY_AUDIT_STRICT_TYPES", false),
		Threshold:     getEnvInt("TALLY_AUDIT_THRESHOLD", 0),
		Retention: audit.RetentionPolicy{
			MaxAge:   getEnvDuration("TALLY_RETENTION_MAX_AGE", retention.MaxAge),
			Schedule: getEnv("TALLY_RETENTION_SCHEDULE", retention.Schedule),
		},
		CatalogSize: getEnvInt("TALLY_CATALOG_SIZE", 256),
		CatalogTTL:  getEnvDuration("TALLY_CATALOG_TTL", 5*time.Minute),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Storage.DatabaseURL != "" {
		if _, err := c.Storage.Dialect(); err != nil {
			return err
		}
	}

	if err := c.validateDriver(c.Audit.DefaultDriver); err != nil {
		return fmt.Errorf("default audit driver: %w", err)
	}
	for _, d := range c.Storage.MultiDrivers {
		if d == audit.DriverMulti {
			return fmt.Errorf("multi drivers cannot include %q", audit.DriverMulti)
		}
		if err := c.validateDriver(d); err != nil {
			return fmt.Errorf("multi driver member: %w", err)
		}
	}

	if _, err := audit.ResolverByName(c.Audit.Resolver); err != nil {
		return err
	}
	if c.Audit.Threshold < 0 {
		return fmt.Errorf("%w: %d", audit.ErrInvalidThreshold, c.Audit.Threshold)
	}
	if c.Audit.Retention.MaxAge < 0 {
		return fmt.Errorf("retention max age must not be negative")
	}
	if c.Audit.Retention.MaxAge > 0 {
		if _, err := cron.ParseStandard(c.Audit.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", c.Audit.Retention.Schedule, err)
		}
	}

	// Validate OpenTelemetry config
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

// validateDriver checks that the backend behind a driver id is configured
func (c *Config) validateDriver(driver string) error {
	switch driver {
	case audit.DriverNull, audit.DriverMemory:
		return nil
	case audit.DriverDatabase:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the %s driver", driver)
		}
	case audit.DriverFile:
		if c.Storage.FilePath == "" {
			return fmt.Errorf("file path is required for the %s driver", driver)
		}
	case audit.DriverRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the %s driver", driver)
		}
	case audit.DriverS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the %s driver", driver)
		}
	case audit.DriverMulti:
		if len(c.Storage.MultiDrivers) == 0 {
			return fmt.Errorf("multi drivers are required for the %s driver", driver)
		}
	default:
		return fmt.Errorf("%w: %q", audit.ErrUnknownDriver, driver)
	}
	return nil
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// OTel returns the OpenTelemetry settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable with blanks dropped
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
