package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tally/pkg/observability"
)

// MultiSink replicates records from a primary sink to mirrors. The first
// sink is the primary and Store reports its outcome alone: a record the
// primary rejected is never handed to a mirror, and a mirror that fails is
// logged as a replication error without failing the store.
type MultiSink struct {
	names   []string
	sinks   []Sink
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMultiSink creates a fan-out over named sinks
func NewMultiSink(names []string, sinks []Sink) (*MultiSink, error) {
	if len(sinks) == 0 {
		return nil, fmt.Errorf("multi sink needs at least one sink")
	}
	if len(names) != len(sinks) {
		return nil, fmt.Errorf("multi sink got %d names for %d sinks", len(names), len(sinks))
	}
	return &MultiSink{
		names:  append([]string(nil), names...),
		sinks:  append([]Sink(nil), sinks...),
		logger: observability.NewLogger(observability.InfoLevel, nil),
	}, nil
}

// WithLogger sets the logger that reports replication failures
func (m *MultiSink) WithLogger(logger *observability.Logger) *MultiSink {
	m.logger = logger
	return m
}

// WithMetrics counts mirror writes as "replicate" storage operations
func (m *MultiSink) WithMetrics(metrics *observability.Metrics) *MultiSink {
	m.metrics = metrics
	return m
}

// fanOut runs fn against every sink from index first on and joins the
// failures
func (m *MultiSink) fanOut(first int, fn func(i int, s Sink) error) error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i := first; i < len(m.sinks); i++ {
		i := i
		g.Go(func() (err error) {
			defer func() {
				if err != nil {
					errs[i] = fmt.Errorf("%s: %w", m.names[i], err)
				}
			}()
			defer observability.RecoverToError(m.logger, "sink "+m.names[i], &err)
			return fn(i, m.sinks[i])
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Store implements Sink
func (m *MultiSink) Store(ctx context.Context, record Record) (err error) {
	func() {
		defer observability.RecoverToError(m.logger, "sink "+m.names[0], &err)
		err = m.sinks[0].Store(ctx, record)
	}()
	if err != nil {
		return fmt.Errorf("%s: %w", m.names[0], err)
	}

	start := time.Now()
	_ = m.fanOut(1, func(i int, s Sink) error {
		err := s.Store(ctx, record)
		m.metrics.ObserveStorage("replicate", m.names[i], start, err)
		if err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"mirror":    m.names[i],
				"record_id": record.ID().String(),
				"entity":    record.Key().String(),
			}).Error("audit record replication failed")
		}
		return err
	})
	return nil
}

// Prune implements Pruner for every member that supports it and reports the
// primary's count and error. Mirror failures are logged.
func (m *MultiSink) Prune(ctx context.Context, key EntityKey, keep int) (int64, error) {
	var (
		count      int64
		primaryErr error
	)
	_ = m.fanOut(0, func(i int, s Sink) error {
		p, ok := s.(Pruner)
		if !ok {
			return nil
		}
		n, err := p.Prune(ctx, key, keep)
		if i == 0 {
			count, primaryErr = n, err
			return err
		}
		if err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"mirror": m.names[i],
				"entity": key.String(),
			}).Error("audit mirror prune failed")
		}
		return err
	})
	if primaryErr != nil {
		return count, fmt.Errorf("%s: %w", m.names[0], primaryErr)
	}
	return count, nil
}

// List implements Querier through the first member that can be queried
func (m *MultiSink) List(ctx context.Context, key EntityKey) ([]Record, error) {
	for _, s := range m.sinks {
		if q, ok := s.(Querier); ok {
			return q.List(ctx, key)
		}
	}
	return nil, fmt.Errorf("no member of the multi sink supports queries")
}

// PurgeBefore implements Expirer and returns the total across members
func (m *MultiSink) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	counts := make([]int64, len(m.sinks))
	err := m.fanOut(0, func(i int, s Sink) error {
		e, ok := s.(Expirer)
		if !ok {
			return nil
		}
		n, err := e.PurgeBefore(ctx, cutoff)
		counts[i] = n
		return err
	})

	var total int64
	for _, n := range counts {
		total += n
	}
	return total, err
}

// Close closes every member that is an io.Closer
func (m *MultiSink) Close() error {
	var errs []error
	for i, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
			}
		}
	}
	return errors.Join(errs...)
}
