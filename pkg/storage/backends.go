package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/observability"
)

// Backends holds the connections opened for the audit sinks and the
// registry they are registered in
type Backends struct {
	DB       *sql.DB
	Redis    *redis.Client
	Registry *audit.Registry

	closers []io.Closer
}

// Open connects every configured backend and registers a sink for it. The
// memory sink is always registered. defaultDriver must name a registered
// driver.
func Open(ctx context.Context, cfg Config, defaultDriver string, logger *observability.Logger, metrics *observability.Metrics) (*Backends, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	b := &Backends{Registry: audit.NewRegistry(defaultDriver)}
	sinkOpts := []audit.SinkOption{audit.WithSinkLogger(logger), audit.WithSinkMetrics(metrics)}

	b.Registry.Register(audit.DriverMemory, audit.NewMemorySink())

	if err := b.openDatabase(ctx, cfg, sinkOpts, logger); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openFile(cfg, logger); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openRedis(ctx, cfg, sinkOpts, logger); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openS3(ctx, cfg, sinkOpts, logger); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openMulti(cfg, logger, metrics); err != nil {
		b.Close()
		return nil, err
	}

	if _, _, err := b.Registry.Resolve(defaultDriver); err != nil {
		b.Close()
		return nil, fmt.Errorf("default audit driver: %w", err)
	}
	return b, nil
}

func (b *Backends) openDatabase(ctx context.Context, cfg Config, opts []audit.SinkOption, logger *observability.Logger) error {
	if cfg.DatabaseURL == "" {
		return nil
	}
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	b.DB = db

	dialect, _ := cfg.Dialect()
	if cfg.DatabaseTable != "" {
		opts = append(opts, audit.WithPrefix(cfg.DatabaseTable))
	}
	sink, err := audit.NewDBSink(ctx, db, dialect, opts...)
	if err != nil {
		return err
	}
	b.Registry.Register(audit.DriverDatabase, sink)
	logger.WithField("dialect", string(dialect)).Info("Database audit sink enabled")
	return nil
}

func (b *Backends) openFile(cfg Config, logger *observability.Logger) error {
	if cfg.FilePath == "" {
		return nil
	}
	sink, err := audit.NewFileSink(audit.FileSinkConfig{
		BasePath: cfg.FilePath,
		MaxSize:  cfg.FileMaxSize,
		MaxFiles: cfg.FileMaxFiles,
		Sync:     cfg.FileSync,
	})
	if err != nil {
		return err
	}
	b.closers = append(b.closers, sink)
	b.Registry.Register(audit.DriverFile, sink)
	logger.WithField("path", cfg.FilePath).Info("File audit sink enabled")
	return nil
}

func (b *Backends) openRedis(ctx context.Context, cfg Config, opts []audit.SinkOption, logger *observability.Logger) error {
	if cfg.RedisURL == "" {
		return nil
	}
	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	b.Redis = client

	if cfg.RedisPrefix != "" {
		opts = append(opts, audit.WithPrefix(cfg.RedisPrefix))
	}
	sink, err := audit.NewRedisSink(client, opts...)
	if err != nil {
		return err
	}
	b.Registry.Register(audit.DriverRedis, sink)
	logger.Info("Redis audit sink enabled")
	return nil
}

func (b *Backends) openS3(ctx context.Context, cfg Config, opts []audit.SinkOption, logger *observability.Logger) error {
	if cfg.S3Bucket == "" {
		return nil
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.S3CreateBucket {
		if err := EnsureBucket(ctx, client, cfg.S3Bucket); err != nil {
			return err
		}
	}
	return b.registerS3(client, cfg, opts, logger)
}

func (b *Backends) registerS3(client audit.S3API, cfg Config, opts []audit.SinkOption, logger *observability.Logger) error {
	if cfg.S3Prefix != "" {
		opts = append(opts, audit.WithPrefix(cfg.S3Prefix))
	}
	sink, err := audit.NewS3Sink(client, cfg.S3Bucket, opts...)
	if err != nil {
		return err
	}
	b.Registry.Register(audit.DriverS3, sink)
	logger.WithField("bucket", cfg.S3Bucket).Info("S3 audit sink enabled")
	return nil
}

// openMulti combines already registered drivers, so it runs last
func (b *Backends) openMulti(cfg Config, logger *observability.Logger, metrics *observability.Metrics) error {
	if len(cfg.MultiDrivers) == 0 {
		return nil
	}
	sinks := make([]audit.Sink, 0, len(cfg.MultiDrivers))
	for _, name := range cfg.MultiDrivers {
		if name == audit.DriverMulti {
			return fmt.Errorf("multi driver cannot include itself")
		}
		sink, _, err := b.Registry.Resolve(name)
		if err != nil {
			return fmt.Errorf("multi driver member: %w", err)
		}
		sinks = append(sinks, sink)
	}
	multi, err := audit.NewMultiSink(cfg.MultiDrivers, sinks)
	if err != nil {
		return err
	}
	b.Registry.Register(audit.DriverMulti, multi.WithLogger(logger).WithMetrics(metrics))
	return nil
}

// RegisterHealthChecks adds a probe per connected backend
func (b *Backends) RegisterHealthChecks(h *observability.HealthChecker) {
	if b.DB != nil {
		h.AddDatabase("database", b.DB)
	}
	if b.Redis != nil {
		h.AddRedis("redis", b.Redis, false)
	}
}

// Close closes the owned sinks and then the connections
func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
		b.Redis = nil
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
		b.DB = nil
	}
	return errors.Join(errs...)
}
