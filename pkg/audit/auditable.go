package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tally/pkg/contextkeys"
	"github.com/platinummonkey/tally/pkg/observability"
)

// Auditor holds the process-wide collaborators shared by every Auditable
type Auditor struct {
	registry  *Registry
	resolver  Resolver
	builder   *Builder
	retention *Retention
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// Option configures an Auditor
type Option func(*Auditor)

// WithResolver sets the actor resolver. The default reads the user placed
// on the context by Middleware.
func WithResolver(r Resolver) Option {
	return func(a *Auditor) { a.resolver = r }
}

// WithBuilder replaces the record builder
func WithBuilder(b *Builder) Option {
	return func(a *Auditor) { a.builder = b }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Auditor) { a.metrics = m }
}

// WithTracer sets the tracer used for pipeline spans
func WithTracer(t trace.Tracer) Option {
	return func(a *Auditor) { a.tracer = t }
}

// NewAuditor creates an auditor routing records through registry
func NewAuditor(registry *Registry, opts ...Option) *Auditor {
	a := &Auditor{
		registry: registry,
		resolver: ContextResolver(),
		tracer:   observability.Tracer(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = NewRegistry(DriverNull)
	}
	if a.builder == nil {
		a.builder = NewBuilder(nil, nil)
	}
	if a.logger == nil {
		a.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	a.retention = NewRetention(a.logger)
	return a
}

// Registry returns the sink registry
func (a *Auditor) Registry() *Registry {
	return a.registry
}

// For validates cfg and binds it to a new Auditable
func (a *Auditor) For(cfg Config) (*Auditable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.clone()
	return &Auditable{
		auditor:   a,
		cfg:       cfg,
		gate:      NewGate(cfg),
		driver:    cfg.Driver,
		threshold: cfg.Threshold,
	}, nil
}

// Auditable is the audit behaviour bound to one entity type or instance
type Auditable struct {
	auditor *Auditor
	cfg     Config
	gate    *Gate

	mu        sync.RWMutex
	driver    string
	threshold int
}

// AuditableEvents returns the events that produce records
func (a *Auditable) AuditableEvents() []EventName {
	return a.gate.Events()
}

// TransformAudit applies the configured transform; the default is the identity
func (a *Auditable) TransformAudit(r Record) Record {
	if a.cfg.Transform == nil {
		return r
	}
	return a.cfg.Transform(r)
}

// AuditDriver returns the configured driver id, or NoDriver when unset
func (a *Auditable) AuditDriver() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.driver
}

// SetAuditDriver overrides the driver; NoDriver falls back to the default
func (a *Auditable) SetAuditDriver(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.driver = id
}

// AuditThreshold returns the retention threshold; 0 is unlimited
func (a *Auditable) AuditThreshold() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.threshold
}

// SetAuditThreshold overrides the retention threshold
func (a *Auditable) SetAuditThreshold(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threshold = n
	return nil
}

// ToAudit builds the record for event without storing it and returns its
// map form. Events that are not auditable fail with ErrInvalidEvent.
func (a *Auditable) ToAudit(ctx context.Context, entity Entity, event EventName) (map[string]any, error) {
	ok, err := a.gate.EnsureAuditable(event)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q is not auditable", ErrInvalidEvent, event)
	}
	record, err := a.build(ctx, entity, event)
	if err != nil {
		return nil, err
	}
	return record.ToMap(), nil
}

// RecordEvent is called by the host after a lifecycle event was persisted.
// It returns false without error when the event is not auditable. When the
// store succeeds but retention fails the stored record is returned along
// with the error.
func (a *Auditable) RecordEvent(ctx context.Context, entity Entity, event EventName) (Record, bool, error) {
	ctx, span := a.auditor.tracer.Start(ctx, "audit.RecordEvent", trace.WithAttributes(
		attribute.String("audit.event", string(event)),
	))
	defer span.End()

	record, stored, err := a.recordEvent(ctx, entity, event, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return record, stored, err
}

func (a *Auditable) recordEvent(ctx context.Context, entity Entity, event EventName, span trace.Span) (Record, bool, error) {
	logger := a.auditor.logger.ForRequest(ctx).WithField("event", string(event))

	ok, err := a.gate.EnsureAuditable(event)
	if err != nil {
		a.skipped(event, "invalid")
		return Record{}, false, err
	}
	if !ok {
		a.skipped(event, "not_auditable")
		logger.Debug("event is not auditable, skipping")
		return Record{}, false, nil
	}

	start := time.Now()
	record, err := a.build(ctx, entity, event)
	if err != nil {
		a.skipped(event, "build_failed")
		logger.WithError(err).Error("failed to build audit record")
		return Record{}, false, err
	}
	span.SetAttributes(
		attribute.String("audit.entity", record.Key().String()),
		attribute.String("audit.record_id", record.ID().String()),
	)

	sink, driver, err := a.sink(ctx)
	if err != nil {
		a.skipped(event, "unknown_driver")
		logger.WithError(err).Error("failed to resolve audit driver")
		return Record{}, false, err
	}
	span.SetAttributes(attribute.String("audit.driver", driver))
	logger = logger.WithFields(map[string]interface{}{
		"driver": driver,
		"entity": record.Key().String(),
	})

	if err := sink.Store(ctx, record); err != nil {
		err = storageError(driver, "store", err)
		a.observe(driver, event, start, err)
		logger.WithError(err).Error("failed to store audit record")
		return Record{}, false, err
	}

	deleted, err := a.auditor.retention.Enforce(ctx, sink, driver, record.Key(), a.AuditThreshold())
	a.observe(driver, event, start, err)
	if err != nil {
		logger.WithError(err).Error("failed to enforce audit threshold")
		return record, true, err
	}
	if deleted > 0 {
		if a.auditor.metrics != nil {
			a.auditor.metrics.RecordsPruned.WithLabelValues(driver).Add(float64(deleted))
		}
		logger.WithField("deleted", deleted).Info("audit threshold enforced")
	}
	return record, true, nil
}

// build runs diff, actor resolution, assembly and transform
func (a *Auditable) build(ctx context.Context, entity Entity, event EventName) (Record, error) {
	if entity == nil {
		return Record{}, errors.New("audit: entity is nil")
	}
	changes := a.gate.strategy(event)(entity.CurrentAttributes(), entity.OriginalAttributes(), a.cfg.filter())

	actor, err := Resolve(ctx, a.auditor.resolver)
	if err != nil {
		return Record{}, err
	}

	return a.TransformAudit(a.auditor.builder.Build(ctx, entity, event, changes, actor)), nil
}

// sink picks the null sink for WithoutAuditing paths and otherwise the
// configured driver
func (a *Auditable) sink(ctx context.Context) (Sink, string, error) {
	if contextkeys.IsAuditDisabled(ctx) {
		return NullSink{}, DriverNull, nil
	}
	return a.auditor.registry.Resolve(a.AuditDriver())
}

func (a *Auditable) skipped(event EventName, reason string) {
	if a.auditor.metrics != nil {
		a.auditor.metrics.RecordsSkipped.WithLabelValues(string(event), reason).Inc()
	}
}

func (a *Auditable) observe(driver string, event EventName, start time.Time, err error) {
	m := a.auditor.metrics
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RecordsTotal.WithLabelValues(driver, string(event), status).Inc()
	m.PipelineDuration.WithLabelValues(driver).Observe(time.Since(start).Seconds())
}
