package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "worker")
		panic("boom")
	}()

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "PANIC recovered", entry.Message)
	assert.Equal(t, "boom", entry.Fields["panic"])
	assert.Equal(t, "worker", entry.Fields["context"])
	assert.NotEmpty(t, entry.Fields["stack"])
}

func TestRecoverToError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	run := func() (err error) {
		defer RecoverToError(logger, "fan-out", &err)
		panic("sink exploded")
	}

	err := run()
	require.Error(t, err)
	assert.Equal(t, "panic in fan-out: sink exploded", err.Error())

	clean := func() (err error) {
		defer RecoverToError(logger, "fan-out", &err)
		return nil
	}
	assert.NoError(t, clean())
}
