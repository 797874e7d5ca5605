package audit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/observability"
)

func staticSource(calls *int32, policies map[string]Config) ConfigSource {
	return ConfigSourceFunc(func(entityType string) (Config, bool) {
		atomic.AddInt32(calls, 1)
		cfg, ok := policies[entityType]
		return cfg, ok
	})
}

func TestCatalog_Get(t *testing.T) {
	a, _ := newTestAuditor(t)
	var calls int32
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	catalog := NewCatalog(a, staticSource(&calls, map[string]Config{
		"Article": {Threshold: 5, Exclude: []string{"password"}},
	}), CatalogConfig{}, metrics)

	first, err := catalog.Get("Article")
	require.NoError(t, err)
	assert.Equal(t, 5, first.AuditThreshold())

	second, err := catalog.Get("Article")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, catalog.Len())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal))
}

func TestCatalog_UnknownType(t *testing.T) {
	a, _ := newTestAuditor(t)
	var calls int32
	catalog := NewCatalog(a, staticSource(&calls, nil), CatalogConfig{}, nil)

	_, err := catalog.Get("Invoice")
	assert.ErrorIs(t, err, ErrUnknownEntityType)
	assert.Zero(t, catalog.Len())
}

func TestCatalog_Fallback(t *testing.T) {
	a, _ := newTestAuditor(t)
	var calls int32
	catalog := NewCatalog(a, staticSource(&calls, nil), CatalogConfig{
		Default: &Config{Events: []EventName{EventCreated}},
	}, nil)

	auditable, err := catalog.Get("Invoice")
	require.NoError(t, err)
	assert.Equal(t, []EventName{EventCreated}, auditable.AuditableEvents())
}

func TestCatalog_InvalidPolicy(t *testing.T) {
	a, _ := newTestAuditor(t)
	var calls int32
	catalog := NewCatalog(a, staticSource(&calls, map[string]Config{
		"Article": {Threshold: -3},
	}), CatalogConfig{}, nil)

	_, err := catalog.Get("Article")
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.Contains(t, err.Error(), `invalid audit policy for "Article"`)
}

func TestCatalog_PurgeAndExpiry(t *testing.T) {
	a, _ := newTestAuditor(t)
	var calls int32
	catalog := NewCatalog(a, staticSource(&calls, map[string]Config{"Article": {}}),
		CatalogConfig{TTL: 50 * time.Millisecond}, nil)

	_, err := catalog.Get("Article")
	require.NoError(t, err)

	catalog.Purge()
	assert.Zero(t, catalog.Len())
	_, err = catalog.Get("Article")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	time.Sleep(100 * time.Millisecond)
	_, err = catalog.Get("Article")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCatalog_ConcurrentGet(t *testing.T) {
	a, _ := newTestAuditor(t)
	var calls int32
	catalog := NewCatalog(a, staticSource(&calls, map[string]Config{"Article": {}}), CatalogConfig{}, nil)

	var wg sync.WaitGroup
	results := make([]*Auditable, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			auditable, err := catalog.Get("Article")
			assert.NoError(t, err)
			results[i] = auditable
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.NotNil(t, r)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(20))
}
