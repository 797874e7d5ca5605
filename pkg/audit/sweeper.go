package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tally/pkg/observability"
)

// Sweeper deletes records older than the policy's MaxAge from every
// registered sink that implements Expirer
type Sweeper struct {
	registry *Registry
	policy   RetentionPolicy
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper; call Start to schedule it
func NewSweeper(registry *Registry, policy RetentionPolicy, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Sweeper{
		registry: registry,
		policy:   policy,
		logger:   logger.WithField("component", "audit_sweeper"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start schedules the sweep. A zero MaxAge disables it.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("audit sweeper already started")
	}
	if s.policy.MaxAge <= 0 {
		s.logger.Info("audit max age not set, sweeper disabled")
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.policy.Schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.policy.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.logger.WithFields(map[string]interface{}{
		"schedule": s.policy.Schedule,
		"max_age":  s.policy.MaxAge.String(),
	}).Info("audit sweeper started")
	return nil
}

// Stop unschedules the sweep and waits for a running sweep until ctx is done
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer observability.RecoverPanic(s.logger, "audit sweep")

	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.WithError(err).Error("audit sweep failed")
	}
}

// RunOnce purges every expirable sink once and returns the deleted count
// per driver. Sinks are swept in driver order; a failing sink does not stop
// the others.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int64, error) {
	if s.policy.MaxAge <= 0 {
		return map[string]int64{}, nil
	}
	cutoff := s.now().UTC().Add(-s.policy.MaxAge)

	sinks := s.registry.Sinks()
	drivers := make([]string, 0, len(sinks))
	for id := range sinks {
		drivers = append(drivers, id)
	}
	sort.Strings(drivers)

	results := make(map[string]int64)
	var errs []error
	for _, driver := range drivers {
		expirer, ok := sinks[driver].(Expirer)
		if !ok {
			continue
		}
		deleted, err := expirer.PurgeBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, storageError(driver, "purge", err))
			s.logger.WithError(err).WithField("driver", driver).Error("failed to purge expired audit records")
			continue
		}
		results[driver] = deleted
		if s.metrics != nil && deleted > 0 {
			s.metrics.RecordsExpired.WithLabelValues(driver).Add(float64(deleted))
		}
		s.logger.WithFields(map[string]interface{}{
			"driver":  driver,
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("purged expired audit records")
	}
	return results, errors.Join(errs...)
}
