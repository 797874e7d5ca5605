package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tally/pkg/contextkeys"
)

// ContextProvider supplies the request metadata for a record
type ContextProvider interface {
	RequestInfo(ctx context.Context) RequestInfo
}

// ContextProviderFunc adapts a function to ContextProvider
type ContextProviderFunc func(ctx context.Context) RequestInfo

// RequestInfo implements ContextProvider
func (f ContextProviderFunc) RequestInfo(ctx context.Context) RequestInfo { return f(ctx) }

// RequestContext reads the request metadata stored by Middleware
var RequestContext ContextProvider = ContextProviderFunc(func(ctx context.Context) RequestInfo {
	var info RequestInfo
	if url, ok := contextkeys.GetRequestURL(ctx); ok {
		info.URL = &url
	}
	if ip, ok := contextkeys.GetIPAddress(ctx); ok {
		info.IPAddress = &ip
	}
	if ua, ok := contextkeys.GetUserAgent(ctx); ok {
		info.UserAgent = &ua
	}
	return info
})

// Clock hands out strictly increasing UTC timestamps, so records built in
// one process order by created_at the same way they were built
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock creates a clock over now; nil uses time.Now
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the next timestamp
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

// buildSequence numbers records in build order across every Builder in the
// process
var buildSequence atomic.Uint64

// Builder assembles records
type Builder struct {
	clock    *Clock
	provider ContextProvider
	newID    func() uuid.UUID
}

// NewBuilder creates a builder; nil arguments use the system clock and
// RequestContext
func NewBuilder(clock *Clock, provider ContextProvider) *Builder {
	if clock == nil {
		clock = NewClock(nil)
	}
	if provider == nil {
		provider = RequestContext
	}
	return &Builder{clock: clock, provider: provider, newID: uuid.New}
}

// Build assembles the record for an event the gate has already accepted.
// The event name is not validated again here.
func (b *Builder) Build(ctx context.Context, entity Entity, event EventName, changes Changes, actor Value) Record {
	info := b.provider.RequestInfo(ctx)
	return Record{
		id:            b.newID(),
		event:         event,
		oldValues:     orEmpty(changes.Old).Clone(),
		newValues:     orEmpty(changes.New).Clone(),
		auditableID:   entity.AuditableID(),
		auditableType: entity.AuditableType(),
		userID:        actor,
		url:           copyPtr(info.URL),
		ipAddress:     copyPtr(info.IPAddress),
		userAgent:     copyPtr(info.UserAgent),
		createdAt:     b.clock.Now(),
		sequence:      buildSequence.Add(1),
	}
}
