package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlers(t *testing.T) (*mux.Router, *Auditor, *MemorySink) {
	t.Helper()
	a, mem := newTestAuditor(t)
	a.Registry().Register("append-only", &appendOnlySink{})
	a.Registry().Register("broken", failingSink{err: errors.New("disk full")})
	a.Registry().Register("flaky", &pruneFailingSink{MemorySink: NewMemorySink()})

	catalog := NewCatalog(a, ConfigSourceFunc(func(entityType string) (Config, bool) {
		switch entityType {
		case "Article":
			return Config{Exclude: []string{"password"}, Threshold: 2}, true
		case "Log":
			return Config{Driver: "append-only"}, true
		case "Invoice":
			return Config{Driver: "broken"}, true
		case "Comment":
			return Config{Driver: "flaky", Threshold: 1}, true
		case "Draft":
			return Config{Events: []EventName{EventCreated}}, true
		}
		return Config{}, false
	}), CatalogConfig{}, nil)

	router := mux.NewRouter()
	NewHandlers(catalog, nil).RegisterRoutes(router)
	return router, a, mem
}

func postEvent(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_RecordEvent(t *testing.T) {
	router, _, mem := setupHandlers(t)

	rec := postEvent(t, router, "/entities/Article/1/events",
		`{"event":"updated","current":{"title":"new","password":"x"},"original":{"title":"old","password":"y"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Audited bool   `json:"audited"`
		Record  Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Audited)
	assert.Equal(t, EventUpdated, resp.Record.Event())
	assert.Equal(t, []string{"title"}, resp.Record.NewValues().Keys())
	assert.Equal(t, 1, mem.Len())
}

func TestHandlers_RecordEventSkipped(t *testing.T) {
	router, _, mem := setupHandlers(t)

	rec := postEvent(t, router, "/entities/Draft/1/events", `{"event":"deleted","current":{"title":"t"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"audited":false}`, rec.Body.String())
	assert.Zero(t, mem.Len())
}

func TestHandlers_RecordEventRetentionFailure(t *testing.T) {
	router, a, _ := setupHandlers(t)

	rec := postEvent(t, router, "/entities/Comment/1/events", `{"event":"created","current":{"body":"hi"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Audited bool   `json:"audited"`
		Record  Record `json:"record"`
		Warning string `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Audited)
	assert.False(t, resp.Record.IsZero())
	assert.Contains(t, resp.Warning, "prune failed")

	sink, _, err := a.Registry().Resolve("flaky")
	require.NoError(t, err)
	assert.Equal(t, 1, sink.(*pruneFailingSink).Len())
}

func TestHandlers_RecordEventErrors(t *testing.T) {
	router, _, _ := setupHandlers(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed body", "/entities/Article/1/events", `{`, http.StatusBadRequest},
		{"invalid event", "/entities/Article/1/events", `{"event":"archived"}`, http.StatusBadRequest},
		{"empty event", "/entities/Article/1/events", `{}`, http.StatusBadRequest},
		{"unknown type", "/entities/Invoice2/1/events", `{"event":"created"}`, http.StatusNotFound},
		{"storage failure", "/entities/Invoice/1/events", `{"event":"created","current":{}}`, http.StatusBadGateway},
		{"unknown field", "/entities/Article/1/events", `{"event":"created","changes":{}}`, http.StatusBadRequest},
		{"non object attributes", "/entities/Article/1/events", `{"event":"created","current":[1]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postEvent(t, router, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestHandlers_ListRecords(t *testing.T) {
	router, _, _ := setupHandlers(t)

	for _, title := range []string{"a", "b", "c"} {
		rec := postEvent(t, router, "/entities/Article/1/events",
			`{"event":"updated","current":{"title":"`+title+`"},"original":{"title":"x"}}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/audits/Article/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Records []Record `json:"records"`
		Count   int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count, "threshold keeps the two newest")
	v, _ := resp.Records[1].NewValues().Get("title")
	assert.Equal(t, String("c"), v)
}

func TestHandlers_ListRecordsNotQueryable(t *testing.T) {
	router, _, _ := setupHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/audits/Log/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandlers_ListRecordsUnknownType(t *testing.T) {
	router, _, _ := setupHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/audits/Unknown/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Export(t *testing.T) {
	router, a, _ := setupHandlers(t)

	article, err := a.For(Config{})
	require.NoError(t, err)
	_, _, err = article.RecordEvent(context.Background(), articleSnapshot(articleAttrs("t", "c"), nil), EventCreated)
	require.NoError(t, err)

	t.Run("csv", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/audits/Article/1/export?format=csv", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Equal(t, "attachment; filename=audits-Article-1.csv", rec.Header().Get("Content-Disposition"))

		rows, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("default json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/audits/Article/1/export", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var records []Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		assert.Len(t, records, 1)
	})

	t.Run("filename is quoted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/audits/Article/a%3Bb%22c/export", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
		require.NoError(t, err)
		assert.Equal(t, "attachment", disposition)
		assert.Equal(t, `audits-Article-a;b"c.json`, params["filename"])
	})

	t.Run("unsupported format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/audits/Article/1/export?format=xml", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	router, _, _ := setupHandlers(t)

	req := httptest.NewRequest(http.MethodDelete, "/audits/Article/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
