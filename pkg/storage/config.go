package storage

import "time"

// Config for the storage backends behind the audit drivers. A backend is
// enabled when its address is set.
type Config struct {
	// Database config
	DatabaseURL    string
	DatabaseDriver string // "postgres" or "sqlite3"
	DatabaseTable  string
	MaxConns       int
	MinConns       int
	Timeout        time.Duration
	MaxLifetime    time.Duration
	MaxIdleTime    time.Duration

	// File config
	FilePath     string
	FileMaxSize  int64
	FileMaxFiles int
	FileSync     bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisPrefix     string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3Prefix       string
	S3CreateBucket bool

	// MultiDrivers lists the drivers combined into the "multi" driver; the
	// first one is the primary
	MultiDrivers []string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		DatabaseDriver:  "postgres",
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		FileMaxSize:     100 * 1024 * 1024,
		FileMaxFiles:    10,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		S3Region:        "us-east-1",
	}
}
