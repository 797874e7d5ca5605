package audit

import "fmt"

// Gate decides whether an event proceeds to record building
type Gate struct {
	events     []EventName
	recognised map[EventName]bool
	handlers   map[EventName]DiffStrategy
}

// NewGate builds the gate for a config. Configured handlers override the
// built-in strategies.
func NewGate(cfg Config) *Gate {
	g := &Gate{
		events:     cfg.auditableEvents(),
		recognised: make(map[EventName]bool),
		handlers:   make(map[EventName]DiffStrategy, len(builtinStrategies)+len(cfg.Handlers)),
	}
	for _, e := range DefaultEvents() {
		g.recognised[e] = true
	}
	for _, e := range cfg.CustomEvents {
		if e != "" {
			g.recognised[e] = true
		}
	}
	for e, s := range builtinStrategies {
		g.handlers[e] = s
	}
	for e, s := range cfg.Handlers {
		if s == nil {
			delete(g.handlers, e)
			continue
		}
		g.handlers[e] = s
	}
	return g
}

// Events returns the auditable events in configured order
func (g *Gate) Events() []EventName {
	return append([]EventName{}, g.events...)
}

// ShouldAudit reports whether event is in the auditable list. Empty and
// unrecognised names fail with ErrInvalidEvent.
func (g *Gate) ShouldAudit(event EventName) (bool, error) {
	if event == "" {
		return false, fmt.Errorf("%w: event is empty", ErrInvalidEvent)
	}
	if !g.recognised[event] {
		return false, fmt.Errorf("%w: %q is not a lifecycle event", ErrInvalidEvent, event)
	}
	for _, e := range g.events {
		if e == event {
			return true, nil
		}
	}
	return false, nil
}

// EnsureAuditable is ShouldAudit plus the requirement that an auditable
// event has a diff strategy. A missing strategy is a configuration defect
// and never a skip.
func (g *Gate) EnsureAuditable(event EventName) (bool, error) {
	ok, err := g.ShouldAudit(event)
	if err != nil || !ok {
		return ok, err
	}
	if _, found := g.handlers[event]; !found {
		return false, fmt.Errorf("%w: unable to handle %q event, %q attribute handler missing",
			ErrMissingEventHandler, event, string(event))
	}
	return true, nil
}

// strategy returns the diff strategy for an event already passed through
// EnsureAuditable
func (g *Gate) strategy(event EventName) DiffStrategy {
	return g.handlers[event]
}
