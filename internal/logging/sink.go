package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	created_at     TEXT NOT NULL,
	level          TEXT NOT NULL,
	category       TEXT NOT NULL,
	event          TEXT NOT NULL,
	message        TEXT,
	user_id        TEXT,
	session_id     TEXT,
	correlation_id TEXT,
	source         TEXT,
	data_json      TEXT,
	prev_hash      TEXT,
	checksum       TEXT NOT NULL
);
`
// #endregion schema

// #region sink
// Sink persists audit events.
type Sink interface {
	WriteAudit(ctx context.Context, ev AuditEvent) error
}

// SQLiteSink writes audit events to the audit_log table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates the audit_log table on db if needed.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, fmt.Errorf("migrate audit_log: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}
// #endregion sink

// #region write-audit
// WriteAudit inserts one event. Data must already be masked.
func (s *SQLiteSink) WriteAudit(ctx context.Context, ev AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	var dataJSON string
	if len(ev.Data) > 0 {
		b, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal audit data: %w", err)
		}
		dataJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, created_at, level, category, event, message, user_id, session_id,
		                        correlation_id, source, data_json, prev_hash, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.Level),
		string(ev.Category),
		ev.Event,
		nullIfEmpty(ev.Message),
		nullIfEmpty(ev.Context.UserID),
		nullIfEmpty(ev.Context.SessionID),
		nullIfEmpty(ev.Context.CorrelationID),
		nullIfEmpty(ev.Context.Source),
		nullIfEmpty(dataJSON),
		nullIfEmpty(ev.PrevHash),
		ev.Checksum,
	)
	if err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}
// #endregion write-audit

// #region recent
// Recent returns up to limit events in write order, oldest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, level, category, event, message, user_id, session_id,
		        correlation_id, source, data_json, prev_hash, checksum
		 FROM (SELECT * FROM audit_log ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			ev                                   AuditEvent
			created, level, category             string
			message, user, session, corr, source sql.NullString
			dataJSON, prev                       sql.NullString
		)
		if err := rows.Scan(&ev.ID, &created, &level, &category, &ev.Event, &message, &user, &session,
			&corr, &source, &dataJSON, &prev, &ev.Checksum); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		ev.Level = Level(level)
		ev.Category = Category(category)
		ev.Message = message.String
		ev.Context = AuditContext{UserID: user.String, SessionID: session.String, CorrelationID: corr.String, Source: source.String}
		ev.PrevHash = prev.String
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("unmarshal audit data: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
// #endregion recent

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
