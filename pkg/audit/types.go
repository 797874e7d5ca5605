package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventName is a lifecycle transition on an entity
type EventName string

const (
	EventCreated  EventName = "created"
	EventUpdated  EventName = "updated"
	EventDeleted  EventName = "deleted"
	EventRestored EventName = "restored"
)

// DefaultEvents is the auditable event list used when none is configured
func DefaultEvents() []EventName {
	return []EventName{EventCreated, EventUpdated, EventDeleted, EventRestored}
}

func isBuiltinEvent(e EventName) bool {
	switch e {
	case EventCreated, EventUpdated, EventDeleted, EventRestored:
		return true
	}
	return false
}

// EntityKey identifies one entity instance across its audit history
type EntityKey struct {
	Type string
	ID   string
}

func (k EntityKey) String() string {
	return k.Type + ":" + k.ID
}

// Entity supplies the snapshots of an entity for a single lifecycle event
type Entity interface {
	CurrentAttributes() *Attributes
	OriginalAttributes() *Attributes
	AuditableID() string
	AuditableType() string
}

// Snapshot is a plain Entity implementation for hosts that already hold
// before/after attribute maps
type Snapshot struct {
	Type     string
	ID       string
	Current  *Attributes
	Original *Attributes
}

func (s Snapshot) CurrentAttributes() *Attributes  { return s.Current }
func (s Snapshot) OriginalAttributes() *Attributes { return s.Original }
func (s Snapshot) AuditableID() string             { return s.ID }
func (s Snapshot) AuditableType() string           { return s.Type }

// RequestInfo holds the optional origin of the change
type RequestInfo struct {
	URL       *string
	IPAddress *string
	UserAgent *string
}

// Record is a single immutable audit entry. Build records with Builder and
// derive changed copies with the With* methods.
type Record struct {
	id            uuid.UUID
	event         EventName
	oldValues     *Attributes
	newValues     *Attributes
	auditableID   string
	auditableType string
	userID        Value
	url           *string
	ipAddress     *string
	userAgent     *string
	createdAt     time.Time
	sequence      uint64
}

func (r Record) ID() uuid.UUID         { return r.id }
func (r Record) Event() EventName      { return r.event }
func (r Record) AuditableID() string   { return r.auditableID }
func (r Record) AuditableType() string { return r.auditableType }
func (r Record) UserID() Value         { return r.userID }
func (r Record) CreatedAt() time.Time  { return r.createdAt }
func (r Record) Sequence() uint64      { return r.sequence }

// Key returns the owning entity key
func (r Record) Key() EntityKey {
	return EntityKey{Type: r.auditableType, ID: r.auditableID}
}

// OldValues returns a copy of the attribute values before the event
func (r Record) OldValues() *Attributes { return r.oldValues.Clone() }

// NewValues returns a copy of the attribute values after the event
func (r Record) NewValues() *Attributes { return r.newValues.Clone() }

func (r Record) URL() (string, bool)       { return deref(r.url) }
func (r Record) IPAddress() (string, bool) { return deref(r.ipAddress) }
func (r Record) UserAgent() (string, bool) { return deref(r.userAgent) }

// IsZero reports whether r is the zero Record
func (r Record) IsZero() bool {
	return r.id == uuid.Nil && r.event == "" && r.createdAt.IsZero()
}

// WithOldValues returns a copy of r with different old values
func (r Record) WithOldValues(attrs *Attributes) Record {
	r.oldValues = attrs.Clone()
	return r
}

// WithNewValues returns a copy of r with different new values
func (r Record) WithNewValues(attrs *Attributes) Record {
	r.newValues = attrs.Clone()
	return r
}

// WithUserID returns a copy of r attributed to a different actor
func (r Record) WithUserID(v Value) Record {
	r.userID = v
	return r
}

// WithRequest returns a copy of r with different request metadata
func (r Record) WithRequest(info RequestInfo) Record {
	r.url = copyPtr(info.URL)
	r.ipAddress = copyPtr(info.IPAddress)
	r.userAgent = copyPtr(info.UserAgent)
	return r
}

// ToMap returns the record as the mapping persisted by sinks
func (r Record) ToMap() map[string]any {
	return map[string]any{
		"event":          string(r.event),
		"old_values":     r.OldValues().ToMap(),
		"new_values":     r.NewValues().ToMap(),
		"auditable_id":   r.auditableID,
		"auditable_type": r.auditableType,
		"user_id":        r.userID.Interface(),
		"url":            ptrValue(r.url),
		"ip_address":     ptrValue(r.ipAddress),
		"user_agent":     ptrValue(r.userAgent),
		"created_at":     r.createdAt,
	}
}

// recordJSON is the wire form of a Record
type recordJSON struct {
	ID            uuid.UUID   `json:"id"`
	Event         EventName   `json:"event"`
	OldValues     *Attributes `json:"old_values"`
	NewValues     *Attributes `json:"new_values"`
	AuditableID   string      `json:"auditable_id"`
	AuditableType string      `json:"auditable_type"`
	UserID        Value       `json:"user_id"`
	URL           *string     `json:"url"`
	IPAddress     *string     `json:"ip_address"`
	UserAgent     *string     `json:"user_agent"`
	CreatedAt     time.Time   `json:"created_at"`
	Sequence      uint64      `json:"sequence,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (r Record) MarshalJSON() ([]byte, error) {
	old, nw := r.oldValues, r.newValues
	if old == nil {
		old = NewAttributes()
	}
	if nw == nil {
		nw = NewAttributes()
	}
	return json.Marshal(recordJSON{
		ID:            r.id,
		Event:         r.event,
		OldValues:     old,
		NewValues:     nw,
		AuditableID:   r.auditableID,
		AuditableType: r.auditableType,
		UserID:        r.userID,
		URL:           r.url,
		IPAddress:     r.ipAddress,
		UserAgent:     r.userAgent,
		CreatedAt:     r.createdAt,
		Sequence:      r.sequence,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode audit record: %w", err)
	}
	*r = Record{
		id:            raw.ID,
		event:         raw.Event,
		oldValues:     orEmpty(raw.OldValues),
		newValues:     orEmpty(raw.NewValues),
		auditableID:   raw.AuditableID,
		auditableType: raw.AuditableType,
		userID:        raw.UserID,
		url:           raw.URL,
		ipAddress:     raw.IPAddress,
		userAgent:     raw.UserAgent,
		createdAt:     raw.CreatedAt,
		sequence:      raw.Sequence,
	}
	return nil
}

// ExportFormat represents the format for exporting audit records
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// RetentionPolicy defines the age-based sweep applied on a schedule, on top
// of the per-entity count threshold
type RetentionPolicy struct {
	// MaxAge is how long records are kept; zero disables the sweep
	MaxAge time.Duration

	// Schedule is a cron expression for the sweep
	Schedule string
}

// DefaultRetentionPolicy keeps records for 90 days, swept nightly
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxAge:   90 * 24 * time.Hour,
		Schedule: "30 3 * * *",
	}
}

func orEmpty(a *Attributes) *Attributes {
	if a == nil {
		return NewAttributes()
	}
	return a
}

func deref(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func copyPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func ptrValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// StringPtr is a small helper for optional request fields
func StringPtr(s string) *string { return &s }
