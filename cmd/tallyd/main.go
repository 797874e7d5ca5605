package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("tally exited with error")
		os.Exit(1)
	}
}

// app holds the wired components of a running server
type app struct {
	backends *storage.Backends
	policies *config.PolicySet
	catalog  *audit.Catalog
	sweeper  *audit.Sweeper
	health   *observability.HealthChecker
	registry *prometheus.Registry
	metrics  *observability.Metrics
	router   *mux.Router
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = observability.ShutdownOTel(ctx, otelProviders, logger)
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(a.router, "tally"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("storage", func(context.Context) error {
		return a.backends.Close()
	})

	watchCtx, stopWatch := context.WithCancel(ctx)
	shutdown.Register("policy watcher", func(context.Context) error {
		stopWatch()
		return nil
	})
	if cfg.Audit.PolicyFile != "" && cfg.Audit.WatchPolicy {
		if err := a.policies.Watch(watchCtx, cfg.Audit.PolicyFile, logger, a.catalog.Purge); err != nil {
			logger.WithError(err).Warn("Policy file will not be reloaded")
		}
	}

	if err := a.sweeper.Start(); err != nil {
		_ = shutdown.Shutdown(ctx)
		return err
	}
	shutdown.Register("sweeper", a.sweeper.Stop)

	go func() {
		logger.Infof("Starting tally on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			_ = shutdown.Shutdown(context.Background())
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}

// newApp connects storage and builds the audit pipeline and router
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	backends, err := storage.Open(ctx, cfg.Storage, cfg.Audit.DefaultDriver, logger, metrics)
	if err != nil {
		return nil, err
	}

	resolver, err := audit.ResolverByName(cfg.Audit.Resolver)
	if err != nil {
		backends.Close()
		return nil, err
	}
	policies, err := config.LoadPolicies(cfg.Audit)
	if err != nil {
		backends.Close()
		return nil, err
	}

	auditor := audit.NewAuditor(backends.Registry,
		audit.WithResolver(resolver),
		audit.WithLogger(logger),
		audit.WithMetrics(metrics),
		audit.WithTracer(observability.Tracer()),
	)

	var source audit.ConfigSource = policies
	if !cfg.Audit.StrictTypes {
		source = policies.Lenient()
	}
	catalog := audit.NewCatalog(auditor, source, audit.CatalogConfig{
		Size: cfg.Audit.CatalogSize,
		TTL:  cfg.Audit.CatalogTTL,
	}, metrics)

	health := observability.NewHealthChecker(version)
	backends.RegisterHealthChecks(health)

	a := &app{
		backends: backends,
		policies: policies,
		catalog:  catalog,
		sweeper:  audit.NewSweeper(backends.Registry, cfg.Audit.Retention, logger, metrics),
		health:   health,
		registry: registry,
		metrics:  metrics,
	}
	a.router = a.newRouter(cfg.Server, cfg.Observability.MetricsEnabled, logger)
	return a, nil
}

func (a *app) newRouter(server config.ServerConfig, exposeMetrics bool, logger *observability.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	)))

	router.HandleFunc("/health/live", a.health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", a.health.Readiness).Methods(http.MethodGet)
	if exposeMetrics {
		router.Handle("/metrics", observability.MetricsHandler(a.registry)).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/").Subrouter()
	api.Use(httputil.MaxBytesMiddleware(server.MaxBodyBytes))
	api.Use(audit.NewMiddleware(server.UserHeader, server.TrustProxies).Handler)
	api.Use(observability.HTTPMetricsMiddleware(a.metrics, routeTemplate))
	audit.NewHandlers(a.catalog, logger).RegisterRoutes(api)

	return router
}

// routeTemplate labels requests by route pattern to bound metric cardinality
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
