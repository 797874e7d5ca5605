// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown for tallyd.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("driver", "database").Info("audit sink ready")
//
// Lines are JSON objects with time, level and msg keys; fields are nested
// under "fields".
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordsTotal.WithLabelValues("database", "created", "success").Inc()
//	mux.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddDatabase("database", db)
//	checker.AddRedis("redis", client, false)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tallyd",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
