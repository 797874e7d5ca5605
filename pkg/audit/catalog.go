package audit

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tally/pkg/observability"
)

// ConfigSource provides the audit configuration of an entity type
type ConfigSource interface {
	ConfigFor(entityType string) (Config, bool)
}

// ConfigSourceFunc adapts a function to ConfigSource
type ConfigSourceFunc func(entityType string) (Config, bool)

// ConfigFor implements ConfigSource
func (f ConfigSourceFunc) ConfigFor(entityType string) (Config, bool) { return f(entityType) }

// CatalogConfig configures a Catalog
type CatalogConfig struct {
	Size int           // Max cached entity types (default: 256)
	TTL  time.Duration // Entry lifetime (default: 5m)

	// Default is used for entity types the source does not know; nil makes
	// them fail with ErrUnknownEntityType
	Default *Config
}

// Catalog caches the bound Auditable of each entity type. Purge drops every
// entry, for example after the policy file changes.
type Catalog struct {
	auditor  *Auditor
	source   ConfigSource
	fallback *Config
	cache    *lru.LRU[string, *Auditable]
	group    singleflight.Group
	metrics  *observability.Metrics
}

// NewCatalog creates a catalog over source
func NewCatalog(auditor *Auditor, source ConfigSource, cfg CatalogConfig, metrics *observability.Metrics) *Catalog {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Catalog{
		auditor:  auditor,
		source:   source,
		fallback: cfg.Default,
		cache:    lru.NewLRU[string, *Auditable](cfg.Size, nil, cfg.TTL),
		metrics:  metrics,
	}
}

// Get returns the Auditable for entityType, binding it on a cache miss
func (c *Catalog) Get(entityType string) (*Auditable, error) {
	if a, ok := c.cache.Get(entityType); ok {
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.Inc()
		}
		return a, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}

	v, err, _ := c.group.Do(entityType, func() (interface{}, error) {
		cfg, ok := c.source.ConfigFor(entityType)
		if !ok {
			if c.fallback == nil {
				return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
			}
			cfg = *c.fallback
		}
		a, err := c.auditor.For(cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid audit policy for %q: %w", entityType, err)
		}
		c.cache.Add(entityType, a)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Auditable), nil
}

// Purge drops every cached entry
func (c *Catalog) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached entity types
func (c *Catalog) Len() int {
	return c.cache.Len()
}
