package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/veilmail/webhook-receiver/internal/models"
)

// sqliteTimeLayout is the fixed-width UTC text form timestamps take in
// SQLite. Fixed width keeps lexicographic order equal to chronological
// order, so the created_at index serves the DESC scans directly.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteStore persists events in an embedded, file-backed SQLite
// database using the pure-Go modernc driver.
type SQLiteStore struct {
	path  string
	table string
	db    *sql.DB
}

// NewSQLiteStore builds an unconnected store around a database file
// path. table falls back to DefaultTable when empty.
func NewSQLiteStore(path, table string) *SQLiteStore {
	if table == "" {
		table = DefaultTable
	}
	return &SQLiteStore{path: path, table: table}
}

func (s *SQLiteStore) Kind() string { return KindSQLite }

// Connect opens the database file, enables WAL for concurrent readers,
// and verifies the handle with a ping. SQLite permits one writer at a
// time, so the pool is capped at a single connection.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return &ConnectionError{Backend: KindSQLite, Err: err}
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &ConnectionError{Backend: KindSQLite, Err: err}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return &ConnectionError{Backend: KindSQLite, Err: err}
	}
	s.db = db
	return nil
}

// EnsureSchema creates the events table and its indexes if absent.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return ErrNotConnected
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			received_at TEXT NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (event_type)`,
			s.table+"_event_type_idx", s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (created_at DESC)`,
			s.table+"_created_at_idx", s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Backend: KindSQLite, Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// Insert writes one event. ON CONFLICT DO NOTHING makes a duplicate
// event_id a silent no-op, resolved atomically by the unique index.
func (s *SQLiteStore) Insert(ctx context.Context, ev models.Event) error {
	if s.db == nil {
		return ErrNotConnected
	}

	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return &StorageError{Backend: KindSQLite, Op: "insert", Err: err}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %q (id, event_type, event_id, data, created_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`, s.table)
	_, err = s.db.ExecContext(ctx, stmt,
		ev.ID, ev.EventType, ev.EventID, string(dataJSON),
		ev.CreatedAt.UTC().Format(sqliteTimeLayout),
		ev.ReceivedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return &StorageError{Backend: KindSQLite, Op: "insert", Err: err}
	}
	return nil
}

// Query returns events newest-first, optionally filtered by exact
// event_type, with limit/offset pagination.
func (s *SQLiteStore) Query(ctx context.Context, f QueryFilter) ([]models.Event, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}
	f = f.normalized()

	query := fmt.Sprintf(`SELECT id, event_type, event_id, data, created_at, received_at FROM %q`, s.table)
	args := []interface{}{}
	if f.Type != "" {
		query += ` WHERE event_type = ?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Backend: KindSQLite, Op: "query", Err: err}
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		var raw, createdAt, receivedAt string
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.EventID, &raw, &createdAt, &receivedAt); err != nil {
			return nil, &StorageError{Backend: KindSQLite, Op: "query", Err: err}
		}
		if ev.Data, err = decodeData([]byte(raw)); err != nil {
			return nil, &StorageError{Backend: KindSQLite, Op: "query", Err: err}
		}
		if ev.CreatedAt, err = parseStoredTime(createdAt, sqliteTimeLayout); err != nil {
			return nil, &StorageError{Backend: KindSQLite, Op: "query", Err: err}
		}
		if ev.ReceivedAt, err = parseStoredTime(receivedAt, sqliteTimeLayout); err != nil {
			return nil, &StorageError{Backend: KindSQLite, Op: "query", Err: err}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: KindSQLite, Op: "query", Err: err}
	}
	return events, nil
}

// Close releases the database handle. Repeated calls are no-ops.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
