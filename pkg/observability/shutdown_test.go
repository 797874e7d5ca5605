package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.timeout)
	assert.NotNil(t, sm.logger)

	sm = NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)
	assert.Equal(t, time.Second, sm.timeout)
}

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)

	var order []string
	for _, name := range []string{"db", "redis", "sweeper"} {
		name := name
		sm.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	sm.Register("ignored", nil)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"sweeper", "redis", "db"}, order)
}

func TestShutdownManager_JoinsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)

	errDB := errors.New("db close failed")
	ran := false
	sm.Register("db", func(context.Context) error { return errDB })
	sm.Register("file", func(context.Context) error {
		ran = true
		return nil
	})
	sm.Register("s3", func(context.Context) error { return errors.New("flush failed") })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDB)
	assert.Contains(t, err.Error(), "s3: flush failed")
	assert.True(t, ran, "hooks after a failure still run")
}

func TestShutdownManager_StopsServer(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), server, time.Second)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.ErrorIs(t, server.ListenAndServe(), http.ErrServerClosed)
}

func TestShutdownManager_HookSeesDeadline(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, 50*time.Millisecond)
	sm.Register("slow", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		<-ctx.Done()
		return ctx.Err()
	})

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
