package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS state_records (
	id                 TEXT PRIMARY KEY,
	kind               TEXT NOT NULL,
	payload            BLOB NOT NULL,
	compressed         INTEGER NOT NULL,
	checksum_sha256    TEXT NOT NULL,
	compression_ratio  REAL NOT NULL,
	replication_factor INTEGER NOT NULL,
	location_json      TEXT NOT NULL,
	access_json        TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_state_records_kind ON state_records(kind, updated_at);
`
// #endregion schema

// #region adapter-struct
// SQLiteAdapter is the database tier.
type SQLiteAdapter struct {
	db *sql.DB
}
// #endregion adapter-struct

// #region constructor
// NewSQLiteAdapter opens a SQLite database and runs migrations.
func NewSQLiteAdapter(dbPath string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteAdapter{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *SQLiteAdapter) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *SQLiteAdapter) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

func (s *SQLiteAdapter) Tier() state.Tier { return state.TierDatabase }

// #region store
// Store upserts rec.
func (s *SQLiteAdapter) Store(ctx context.Context, rec state.StateRecord) error {
	if rec.ID == "" {
		return errs.InvalidArgument("record id is required")
	}
	locJSON, err := json.Marshal(rec.Location)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	var accessJSON any
	if len(rec.AccessHistory) > 0 {
		b, err := json.Marshal(rec.AccessHistory)
		if err != nil {
			return fmt.Errorf("marshal access history: %w", err)
		}
		accessJSON = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO state_records (id, kind, payload, compressed, checksum_sha256, compression_ratio,
		                            replication_factor, location_json, access_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   kind = excluded.kind,
		   payload = excluded.payload,
		   compressed = excluded.compressed,
		   checksum_sha256 = excluded.checksum_sha256,
		   compression_ratio = excluded.compression_ratio,
		   replication_factor = excluded.replication_factor,
		   location_json = excluded.location_json,
		   access_json = excluded.access_json,
		   updated_at = excluded.updated_at`,
		rec.ID, string(rec.Kind), rec.Payload, boolToInt(rec.Compressed), rec.ChecksumSHA256,
		rec.CompressionRatio, rec.ReplicationFactor, string(locJSON), accessJSON,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return tx.Commit()
}
// #endregion store

// #region load
// Load fetches one record by id.
func (s *SQLiteAdapter) Load(ctx context.Context, id string) (state.StateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, payload, compressed, checksum_sha256, compression_ratio,
		        replication_factor, location_json, access_json, created_at, updated_at
		 FROM state_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return state.StateRecord{}, errs.NotFound("record %s in database tier", id)
	}
	if err != nil {
		return state.StateRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}
// #endregion load

// #region list
// List returns records newest first, optionally filtered by kind. limit <= 0 means no limit.
func (s *SQLiteAdapter) List(ctx context.Context, kind state.RecordKind, limit int) ([]state.StateRecord, error) {
	query := `SELECT id, kind, payload, compressed, checksum_sha256, compression_ratio,
	                 replication_factor, location_json, access_json, created_at, updated_at
	          FROM state_records`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY updated_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []state.StateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
// #endregion list

// #region delete
// Delete removes a record; a missing id is not an error.
func (s *SQLiteAdapter) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}
// #endregion delete

// #region helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (state.StateRecord, error) {
	var (
		rec        state.StateRecord
		kind       string
		compressed int
		locJSON    string
		accessJSON sql.NullString
		createdStr string
		updatedStr string
	)
	if err := sc.Scan(&rec.ID, &kind, &rec.Payload, &compressed, &rec.ChecksumSHA256, &rec.CompressionRatio,
		&rec.ReplicationFactor, &locJSON, &accessJSON, &createdStr, &updatedStr); err != nil {
		return state.StateRecord{}, err
	}
	rec.Kind = state.RecordKind(kind)
	rec.Compressed = compressed != 0
	if err := json.Unmarshal([]byte(locJSON), &rec.Location); err != nil {
		return state.StateRecord{}, fmt.Errorf("unmarshal location: %w", err)
	}
	if accessJSON.Valid && accessJSON.String != "" {
		if err := json.Unmarshal([]byte(accessJSON.String), &rec.AccessHistory); err != nil {
			return state.StateRecord{}, fmt.Errorf("unmarshal access history: %w", err)
		}
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return state.StateRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return state.StateRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
// #endregion helpers
