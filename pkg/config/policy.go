package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tally/pkg/audit"
)

// Policy is the YAML form of the audit configuration of one entity type
type Policy struct {
	Events       []string          `yaml:"events,omitempty"`
	CustomEvents []string          `yaml:"custom_events,omitempty"`
	Handlers     map[string]string `yaml:"handlers,omitempty"` // event -> built-in strategy
	Include      []string          `yaml:"include,omitempty"`
	Exclude      []string          `yaml:"exclude,omitempty"`
	Driver       string            `yaml:"driver,omitempty"`
	Threshold    *int              `yaml:"threshold,omitempty"`
}

// AuditConfig converts the policy. Unset fields fall back to defaults.
func (p Policy) AuditConfig(defaults Policy) (audit.Config, error) {
	cfg := audit.Config{
		Include: p.Include,
		Exclude: p.Exclude,
		Driver:  p.Driver,
	}
	if p.Events != nil {
		cfg.Events = toEventNames(p.Events)
	} else if defaults.Events != nil {
		cfg.Events = toEventNames(defaults.Events)
	}
	cfg.CustomEvents = toEventNames(append(append([]string(nil), defaults.CustomEvents...), p.CustomEvents...))
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.Include == nil {
		cfg.Include = defaults.Include
	}
	if cfg.Exclude == nil {
		cfg.Exclude = defaults.Exclude
	}
	switch {
	case p.Threshold != nil:
		cfg.Threshold = *p.Threshold
	case defaults.Threshold != nil:
		cfg.Threshold = *defaults.Threshold
	}

	handlers := make(map[string]string, len(defaults.Handlers)+len(p.Handlers))
	for event, strategy := range defaults.Handlers {
		handlers[event] = strategy
	}
	for event, strategy := range p.Handlers {
		handlers[event] = strategy
	}
	if len(handlers) > 0 {
		cfg.Handlers = make(map[audit.EventName]audit.DiffStrategy, len(handlers))
		for event, name := range handlers {
			strategy, ok := audit.BuiltinStrategy(audit.EventName(name))
			if !ok {
				return audit.Config{}, fmt.Errorf("%w: handler %q for %q is not a built-in strategy", audit.ErrMissingEventHandler, name, event)
			}
			cfg.Handlers[audit.EventName(event)] = strategy
		}
	}

	if err := cfg.Validate(); err != nil {
		return audit.Config{}, err
	}
	return cfg, nil
}

func toEventNames(events []string) []audit.EventName {
	if events == nil {
		return nil
	}
	out := make([]audit.EventName, len(events))
	for i, e := range events {
		out[i] = audit.EventName(e)
	}
	return out
}

// PolicyFile is the document read from a policy file
type PolicyFile struct {
	Defaults Policy            `yaml:"defaults"`
	Entities map[string]Policy `yaml:"entities"`
}

// PolicySet resolves audit configuration per entity type. It is safe for
// concurrent use and can be replaced atomically on reload.
type PolicySet struct {
	mu       sync.RWMutex
	configs  map[string]audit.Config
	fallback audit.Config

	threshold int
}

// NewPolicySet creates an empty set whose fallback is built from the audit
// defaults
func NewPolicySet(defaults AuditConfig) *PolicySet {
	return &PolicySet{
		configs:   map[string]audit.Config{},
		fallback:  audit.Config{Threshold: defaults.Threshold},
		threshold: defaults.Threshold,
	}
}

// Fallback returns the configuration used for types without a policy
func (s *PolicySet) Fallback() audit.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// ConfigFor implements audit.ConfigSource
func (s *PolicySet) ConfigFor(entityType string) (audit.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[entityType]
	return cfg, ok
}

// Lenient returns a source that answers every entity type, using the
// fallback for types without a policy
func (s *PolicySet) Lenient() audit.ConfigSource {
	return audit.ConfigSourceFunc(func(entityType string) (audit.Config, bool) {
		if cfg, ok := s.ConfigFor(entityType); ok {
			return cfg, true
		}
		return s.Fallback(), true
	})
}

// EntityTypes returns the configured entity types in lexical order
func (s *PolicySet) EntityTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.configs))
	for t := range s.configs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Load parses a policy document and replaces the current policies. On
// error the previous policies are kept.
func (s *PolicySet) Load(r io.Reader) error {
	var doc PolicyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	defaults := doc.Defaults
	if defaults.Threshold == nil {
		threshold := s.threshold
		defaults.Threshold = &threshold
	}

	fallback, err := Policy{}.AuditConfig(defaults)
	if err != nil {
		return fmt.Errorf("invalid default policy: %w", err)
	}
	configs := make(map[string]audit.Config, len(doc.Entities))
	for entityType, policy := range doc.Entities {
		cfg, err := policy.AuditConfig(defaults)
		if err != nil {
			return fmt.Errorf("invalid policy for %s: %w", entityType, err)
		}
		configs[entityType] = cfg
	}

	s.mu.Lock()
	s.configs = configs
	s.fallback = fallback
	s.mu.Unlock()
	return nil
}

// LoadFile reads the policies from path
func (s *PolicySet) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	return s.Load(bytes.NewReader(data))
}

// LoadPolicies creates a policy set from the audit defaults and, when
// configured, the policy file
func LoadPolicies(cfg AuditConfig) (*PolicySet, error) {
	set := NewPolicySet(cfg)
	if cfg.PolicyFile == "" {
		return set, nil
	}
	if err := set.LoadFile(cfg.PolicyFile); err != nil {
		return nil, err
	}
	return set, nil
}
