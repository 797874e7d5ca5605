package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tally/pkg/contextkeys"
)

// Sink persists finished audit records. Store must be atomic for a single
// record: a partially written record must never be readable.
type Sink interface {
	Store(ctx context.Context, record Record) error
}

// Pruner is implemented by sinks that can enforce a retention threshold
type Pruner interface {
	// Prune deletes the oldest records of key until at most keep remain and
	// returns how many were deleted
	Prune(ctx context.Context, key EntityKey, keep int) (int64, error)
}

// Querier is implemented by sinks that can read back an entity's history
type Querier interface {
	// List returns the records of key ordered oldest first
	List(ctx context.Context, key EntityKey) ([]Record, error)
}

// Expirer is implemented by sinks that support the age-based sweep
type Expirer interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Driver ids of the bundled sinks
const (
	DriverNull     = "null"
	DriverMemory   = "memory"
	DriverDatabase = "database"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverS3       = "s3"
	DriverMulti    = "multi"
)

// NoDriver is returned by AuditDriver when no driver has been set
const NoDriver = ""

// NullSink discards every record
type NullSink struct{}

// Store implements Sink
func (NullSink) Store(context.Context, Record) error { return nil }

// WithoutAuditing routes every record built under ctx to the null sink
func WithoutAuditing(ctx context.Context) context.Context {
	return contextkeys.WithAuditDisabled(ctx)
}

// Registry maps driver ids to sinks
type Registry struct {
	mu            sync.RWMutex
	sinks         map[string]Sink
	defaultDriver string
}

// NewRegistry creates a registry with the null sink pre-registered
func NewRegistry(defaultDriver string) *Registry {
	return &Registry{
		sinks:         map[string]Sink{DriverNull: NullSink{}},
		defaultDriver: defaultDriver,
	}
}

// Register adds or replaces the sink for id
func (r *Registry) Register(id string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = sink
}

// SetDefault changes the process-wide default driver
func (r *Registry) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultDriver = id
}

// Default returns the process-wide default driver id
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultDriver
}

// Resolve returns the sink for id, or the default sink when id is empty
func (r *Registry) Resolve(id string) (Sink, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == NoDriver {
		id = r.defaultDriver
	}
	if id == NoDriver {
		return nil, id, fmt.Errorf("%w: no driver set and no default configured", ErrUnknownDriver)
	}
	sink, ok := r.sinks[id]
	if !ok {
		return nil, id, fmt.Errorf("%w: %q", ErrUnknownDriver, id)
	}
	return sink, id, nil
}

// Drivers returns the registered driver ids in lexical order
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sinks returns the distinct registered sinks
func (r *Registry) Sinks() map[string]Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Sink, len(r.sinks))
	for id, s := range r.sinks {
		out[id] = s
	}
	return out
}
