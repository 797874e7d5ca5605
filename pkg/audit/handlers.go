package audit

import (
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
)

// Handlers provides the HTTP API over a Catalog
type Handlers struct {
	catalog *Catalog
	logger  *observability.Logger
}

// NewHandlers creates new audit handlers
func NewHandlers(catalog *Catalog, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{catalog: catalog, logger: logger}
}

// RegisterRoutes registers the audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audits/{type}/{id}", h.listRecords).Methods(http.MethodGet)
	router.HandleFunc("/audits/{type}/{id}/export", h.exportRecords).Methods(http.MethodGet)
	router.HandleFunc("/entities/{type}/{id}/events", h.recordEvent).Methods(http.MethodPost)
}

// eventRequest is the body of POST /entities/{type}/{id}/events
type eventRequest struct {
	Event    EventName   `json:"event"`
	Current  *Attributes `json:"current"`
	Original *Attributes `json:"original"`
}

// recordEvent handles POST /entities/{type}/{id}/events
func (h *Handlers) recordEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req eventRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	auditable, err := h.catalog.Get(vars["type"])
	if err != nil {
		h.fail(w, err)
		return
	}

	entity := Snapshot{
		Type:     vars["type"],
		ID:       vars["id"],
		Current:  orEmpty(req.Current),
		Original: orEmpty(req.Original),
	}
	record, stored, err := auditable.RecordEvent(r.Context(), entity, req.Event)
	if err != nil && !stored {
		h.fail(w, err)
		return
	}
	if !stored {
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"audited": false})
		return
	}

	resp := map[string]interface{}{
		"audited": true,
		"record":  record,
	}
	// stored, but retention failed
	if err != nil {
		h.logger.WithError(err).WithField("record_id", record.ID().String()).Warn("audit record stored with a retention failure")
		resp["warning"] = err.Error()
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, resp)
}

// listRecords handles GET /audits/{type}/{id}
func (h *Handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	records, ok := h.history(w, r)
	if !ok {
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// exportRecords handles GET /audits/{type}/{id}/export
func (h *Handlers) exportRecords(w http.ResponseWriter, r *http.Request) {
	format, err := ParseExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	records, ok := h.history(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": fmt.Sprintf("audits-%s-%s.%s", vars["type"], vars["id"], format),
	}))
	if err := Export(w, records, format); err != nil {
		h.logger.WithError(err).Error("failed to write audit export")
	}
}

// history reads the records of the entity in the path from the sink its
// policy resolves to. It writes the error response itself.
func (h *Handlers) history(w http.ResponseWriter, r *http.Request) ([]Record, bool) {
	key := EntityKey{Type: httputil.PathVar(r, "type"), ID: httputil.PathVar(r, "id")}

	auditable, err := h.catalog.Get(key.Type)
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	sink, driver, err := auditable.sink(r.Context())
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	querier, ok := sink.(Querier)
	if !ok {
		httputil.WriteError(w, http.StatusNotImplemented, fmt.Errorf("audit driver %q does not support queries", driver))
		return nil, false
	}

	records, err := querier.List(r.Context(), key)
	if err != nil {
		h.fail(w, storageError(driver, "list", err))
		return nil, false
	}
	return records, true
}

// fail maps pipeline errors to status codes
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownEntityType):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidEvent):
		status = http.StatusBadRequest
	case errors.Is(err, ErrMissingEventHandler), errors.Is(err, ErrInvalidThreshold):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrStorage):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("audit request failed")
	}
	httputil.WriteError(w, status, err)
}
