package audit

import "fmt"

// TransformFunc post-processes a built record before it is stored
type TransformFunc func(Record) Record

// Config is the audit configuration of one entity type or instance
type Config struct {
	// Events lists the auditable events in order; nil means DefaultEvents
	Events []EventName

	// CustomEvents are recognised in addition to the built-in events
	CustomEvents []EventName

	// Handlers adds or overrides diff strategies per event
	Handlers map[EventName]DiffStrategy

	// Include is the attribute allow list; empty allows every attribute
	Include []string

	// Exclude is the attribute deny list
	Exclude []string

	// Driver selects the sink; empty uses the registry default
	Driver string

	// Threshold caps retained records per entity; 0 is unlimited
	Threshold int

	// Transform runs on every built record; nil is the identity
	Transform TransformFunc
}

// auditableEvents returns the configured events or the defaults
func (c Config) auditableEvents() []EventName {
	if c.Events == nil {
		return DefaultEvents()
	}
	out := make([]EventName, 0, len(c.Events))
	seen := make(map[EventName]bool, len(c.Events))
	for _, e := range c.Events {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func (c Config) filter() Filter {
	return Filter{Include: c.Include, Exclude: c.Exclude}
}

// Validate checks the threshold and that every auditable event has a diff
// strategy
func (c Config) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, c.Threshold)
	}
	gate := NewGate(c)
	for _, e := range c.auditableEvents() {
		if _, err := gate.EnsureAuditable(e); err != nil {
			return err
		}
	}
	return nil
}

// clone copies the slices and maps so a bound config cannot be changed by
// the caller afterwards
func (c Config) clone() Config {
	out := c
	if c.Events != nil {
		out.Events = append([]EventName{}, c.Events...)
	}
	out.CustomEvents = append([]EventName(nil), c.CustomEvents...)
	out.Include = append([]string(nil), c.Include...)
	out.Exclude = append([]string(nil), c.Exclude...)
	if c.Handlers != nil {
		out.Handlers = make(map[EventName]DiffStrategy, len(c.Handlers))
		for k, v := range c.Handlers {
			out.Handlers[k] = v
		}
	}
	return out
}
