package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

func testConfig(t *testing.T, strict bool) *config.Config {
	t.Helper()
	policyFile := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte(`
entities:
  Article:
    exclude: [secret]
    threshold: 2
`), 0644))

	return &config.Config{
		Server:        config.ServerConfig{Port: "0", UserHeader: audit.HeaderUserID, MaxBodyBytes: 1 << 16},
		Storage:       storage.DefaultConfig(),
		Observability: config.ObservabilityConfig{
			MetricsEnabled: true,
		},
		Audit: config.AuditConfig{
			DefaultDriver: audit.DriverMemory,
			Resolver:      audit.ResolverContext,
			PolicyFile:    policyFile,
			StrictTypes:   strict,
		},
	}
}

func newTestApp(t *testing.T, strict bool) *app {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	a, err := newApp(context.Background(), testConfig(t, strict), logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.backends.Close() })
	return a
}

func postEvent(t *testing.T, h http.Handler, entityType, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/entities/"+entityType+"/"+id+"/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(audit.HeaderUserID, "alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_RecordAndList(t *testing.T) {
	a := newTestApp(t, false)

	for i, title := range []string{"one", "two", "three"} {
		body := `{"event":"updated","current":{"title":"` + title + `","secret":"x"},"original":{"title":"old"}}`
		w := postEvent(t, a.router, "Article", "7", body)
		require.Equal(t, http.StatusCreated, w.Code, "event %d: %s", i, w.Body.String())
		assert.NotEmpty(t, w.Header().Get(audit.HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/audits/Article/7", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Records []map[string]any `json:"records"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count, "threshold from the policy file")
	for _, r := range resp.Records {
		assert.Equal(t, "alice", r["user_id"])
		assert.NotContains(t, r["new_values"], "secret")
	}
}

func TestRouter_UnknownTypeUsesFallback(t *testing.T) {
	a := newTestApp(t, false)
	w := postEvent(t, a.router, "Comment", "1", `{"event":"created","current":{"body":"hi"}}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRouter_StrictRejectsUnknownType(t *testing.T) {
	a := newTestApp(t, true)
	w := postEvent(t, a.router, "Comment", "1", `{"event":"created","current":{"body":"hi"}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	a := newTestApp(t, false)

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	postEvent(t, a.router, "Article", "1", `{"event":"created","current":{"title":"a"}}`)

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/entities/{type}/{id}/events"`)
	assert.Contains(t, w.Body.String(), "tally_audit_records_total")
}

func TestRouteTemplate_Unmatched(t *testing.T) {
	assert.Equal(t, "unmatched", routeTemplate(httptest.NewRequest(http.MethodGet, "/nope", nil)))
}

func TestRouter_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Observability.MetricsEnabled = false
	a, err := newApp(context.Background(), cfg, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { a.backends.Close() })

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestRouter_LogsRequests(t *testing.T) {
	var logs bytes.Buffer
	a, err := newApp(context.Background(), testConfig(t, false), observability.NewLogger(observability.DebugLevel, &logs))
	require.NoError(t, err)
	t.Cleanup(func() { a.backends.Close() })

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, logs.String(), "request completed")
	assert.Contains(t, logs.String(), `"path":"/health/live"`)
}
