package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySink keeps records in process memory. It is used in tests and as a
// development driver.
type MemorySink struct {
	mu      sync.RWMutex
	records map[EntityKey][]Record
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[EntityKey][]Record)}
}

// Store implements Sink
func (m *MemorySink) Store(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := record.Key()
	m.records[key] = append(m.records[key], record)
	return nil
}

// List implements Querier
func (m *MemorySink) List(_ context.Context, key EntityKey) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]Record(nil), m.records[key]...)
	sortOldestFirst(out)
	return out, nil
}

// Prune implements Pruner
func (m *MemorySink) Prune(_ context.Context, key EntityKey, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.records[key]
	excess := len(records) - keep
	if excess <= 0 {
		return 0, nil
	}
	sortOldestFirst(records)
	m.records[key] = append([]Record(nil), records[excess:]...)
	return int64(excess), nil
}

// PurgeBefore implements Expirer
func (m *MemorySink) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, records := range m.records {
		kept := records[:0]
		for _, r := range records {
			if r.CreatedAt().Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(m.records, key)
			continue
		}
		m.records[key] = kept
	}
	return deleted, nil
}

// Len returns the number of stored records across all entities
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, records := range m.records {
		n += len(records)
	}
	return n
}

// sortOldestFirst orders by created_at; the stable sort keeps insertion
// order for equal timestamps
func sortOldestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt().Before(records[j].CreatedAt())
	})
}
