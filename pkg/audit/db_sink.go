package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Dialect selects the SQL flavour of a DBSink
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// DefaultTable is the audit table name
const DefaultTable = "audits"

// DBSink stores records in a relational table. Insertion order is kept in
// the id column and breaks created_at ties during pruning.
type DBSink struct {
	db      *sql.DB
	dialect Dialect
	table   string
	opts    sinkOptions
}

// NewDBSink creates a database sink and ensures the audit table exists
func NewDBSink(ctx context.Context, db *sql.DB, dialect Dialect, opts ...SinkOption) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	o := newSinkOptions(DefaultTable, opts)
	s := &DBSink{
		db:      db,
		dialect: dialect,
		table:   pq.QuoteIdentifier(o.prefix),
		opts:    o,
	}

	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure %s table: %w", o.prefix, err)
	}
	return s, nil
}

// ensureTable creates the audit table and its entity index if they don't exist
func (s *DBSink) ensureTable(ctx context.Context) error {
	idColumn, jsonType, tsType := "id BIGSERIAL PRIMARY KEY", "JSONB", "TIMESTAMP WITH TIME ZONE"
	if s.dialect == DialectSQLite {
		idColumn, jsonType, tsType = "id INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT", "TIMESTAMP"
	}

	index := pq.QuoteIdentifier("idx_" + strings.Trim(s.table, `"`) + "_entity")
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s,
		record_id VARCHAR(36) NOT NULL UNIQUE,
		event VARCHAR(100) NOT NULL,
		auditable_type VARCHAR(255) NOT NULL,
		auditable_id VARCHAR(255) NOT NULL,
		user_id TEXT,
		old_values %s NOT NULL,
		new_values %s NOT NULL,
		url TEXT,
		ip_address VARCHAR(45),
		user_agent TEXT,
		created_at %s NOT NULL
	)`, s.table, idColumn, jsonType, jsonType, tsType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (auditable_type, auditable_id, created_at)`, index, s.table),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres
func (s *DBSink) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store implements Sink
func (s *DBSink) Store(ctx context.Context, record Record) (err error) {
	start := time.Now()
	defer func() { s.opts.observe("store", DriverDatabase, start, err) }()

	oldJSON, err := json.Marshal(orEmpty(record.oldValues))
	if err != nil {
		return fmt.Errorf("failed to marshal old values: %w", err)
	}
	newJSON, err := json.Marshal(orEmpty(record.newValues))
	if err != nil {
		return fmt.Errorf("failed to marshal new values: %w", err)
	}

	var userID sql.NullString
	if !record.userID.IsNull() {
		userID = sql.NullString{String: record.userID.Text(), Valid: true}
	}

	query := s.rebind(fmt.Sprintf(`
		INSERT INTO %s (
			record_id, event, auditable_type, auditable_id, user_id,
			old_values, new_values, url, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table))

	_, err = s.db.ExecContext(ctx, query,
		record.id.String(), string(record.event), record.auditableType, record.auditableID, userID,
		string(oldJSON), string(newJSON),
		nullString(record.url), nullString(record.ipAddress), nullString(record.userAgent),
		record.createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Prune implements Pruner. The count and the delete run in one transaction.
func (s *DBSink) Prune(ctx context.Context, key EntityKey, keep int) (deleted int64, err error) {
	start := time.Now()
	defer func() { s.opts.observe("prune", DriverDatabase, start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int64
	countQuery := s.rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE auditable_type = ? AND auditable_id = ?`, s.table))
	if err = tx.QueryRowContext(ctx, countQuery, key.Type, key.ID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	excess := count - int64(keep)
	if excess <= 0 {
		return 0, tx.Commit()
	}

	deleteQuery := s.rebind(fmt.Sprintf(`
		DELETE FROM %[1]s WHERE id IN (
			SELECT id FROM %[1]s
			WHERE auditable_type = ? AND auditable_id = ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		)`, s.table))
	res, err := tx.ExecContext(ctx, deleteQuery, key.Type, key.ID, excess)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit records: %w", err)
	}
	if deleted, err = res.RowsAffected(); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return deleted, nil
}

// List implements Querier
func (s *DBSink) List(ctx context.Context, key EntityKey) (records []Record, err error) {
	start := time.Now()
	defer func() { s.opts.observe("list", DriverDatabase, start, err) }()

	query := s.rebind(fmt.Sprintf(`
		SELECT
			id, record_id, event, auditable_type, auditable_id, user_id,
			old_values, new_values, url, ip_address, user_agent, created_at
		FROM %s
		WHERE auditable_type = ? AND auditable_id = ?
		ORDER BY created_at ASC, id ASC`, s.table))

	rows, err := s.db.QueryContext(ctx, query, key.Type, key.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records = make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return records, nil
}

// PurgeBefore implements Expirer
func (s *DBSink) PurgeBefore(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	start := time.Now()
	defer func() { s.opts.observe("purge", DriverDatabase, start, err) }()

	res, err := s.db.ExecContext(ctx, s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, s.table)), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	return res.RowsAffected()
}

// Close does not close the database connection as it may be shared
func (s *DBSink) Close() error {
	return nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		seq                     int64
		recordID, event         string
		auditableType, entityID string
		userID                  sql.NullString
		oldJSON, newJSON        string
		url, ip, ua             sql.NullString
		createdAt               time.Time
	)
	if err := rows.Scan(&seq, &recordID, &event, &auditableType, &entityID, &userID,
		&oldJSON, &newJSON, &url, &ip, &ua, &createdAt); err != nil {
		return Record{}, fmt.Errorf("failed to scan audit record: %w", err)
	}

	id, err := uuid.Parse(recordID)
	if err != nil {
		return Record{}, fmt.Errorf("invalid record id %q: %w", recordID, err)
	}
	oldValues, newValues := NewAttributes(), NewAttributes()
	if err := json.Unmarshal([]byte(oldJSON), oldValues); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal old values: %w", err)
	}
	if err := json.Unmarshal([]byte(newJSON), newValues); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal new values: %w", err)
	}

	actor := Null()
	if userID.Valid {
		actor = String(userID.String)
	}

	return Record{
		id:            id,
		event:         EventName(event),
		oldValues:     oldValues,
		newValues:     newValues,
		auditableID:   entityID,
		auditableType: auditableType,
		userID:        actor,
		url:           fromNullString(url),
		ipAddress:     fromNullString(ip),
		userAgent:     fromNullString(ua),
		createdAt:     createdAt.UTC(),
		sequence:      uint64(seq),
	}, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
