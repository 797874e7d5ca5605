package audit

import (
	"time"

	"github.com/platinummonkey/tally/pkg/observability"
)

// SinkOption configures a storage-backed sink
type SinkOption func(*sinkOptions)

type sinkOptions struct {
	metrics *observability.Metrics
	logger  *observability.Logger
	prefix  string
}

// WithSinkMetrics records storage operation counts and latency
func WithSinkMetrics(m *observability.Metrics) SinkOption {
	return func(o *sinkOptions) { o.metrics = m }
}

// WithSinkLogger sets the sink logger
func WithSinkLogger(l *observability.Logger) SinkOption {
	return func(o *sinkOptions) { o.logger = l }
}

// WithPrefix sets the table name for DBSink, the key prefix for RedisSink
// and the object key prefix for S3Sink
func WithPrefix(prefix string) SinkOption {
	return func(o *sinkOptions) { o.prefix = prefix }
}

func newSinkOptions(defaultPrefix string, opts []SinkOption) sinkOptions {
	o := sinkOptions{prefix: defaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return o
}

func (o sinkOptions) observe(op, backend string, start time.Time, err error) {
	o.metrics.ObserveStorage(op, backend, start, err)
}
