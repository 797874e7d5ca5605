package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/observability"
)

func TestRetention_Enforce(t *testing.T) {
	ctx := context.Background()
	key := EntityKey{Type: "Article", ID: "1"}

	tests := []struct {
		name      string
		stored    int
		threshold int
		remaining int
		deleted   int64
	}{
		{"unlimited", 5, 0, 5, 0},
		{"under threshold", 2, 3, 2, 0},
		{"at threshold", 3, 3, 3, 0},
		{"over threshold", 6, 2, 2, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewMemorySink()
			for i := 0; i < tt.stored; i++ {
				require.NoError(t, sink.Store(ctx, testRecord(key, EventUpdated, time.Duration(i)*time.Second)))
			}

			deleted, err := NewRetention(nil).Enforce(ctx, sink, DriverMemory, key, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.deleted, deleted)
			assert.Equal(t, tt.remaining, sink.Len())
		})
	}
}

func TestRetention_AppendOnlySink(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	sink := &appendOnlySink{}
	deleted, err := NewRetention(logger).Enforce(context.Background(), sink, DriverFile,
		EntityKey{Type: "Article", ID: "1"}, 1)

	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Contains(t, buf.String(), "does not support pruning")
}

func TestRetention_PruneFailure(t *testing.T) {
	cause := errors.New("disk full")
	_, err := NewRetention(nil).Enforce(context.Background(), failingSink{err: cause}, DriverDatabase,
		EntityKey{Type: "Article", ID: "1"}, 1)

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
}
