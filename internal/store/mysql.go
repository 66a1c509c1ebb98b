package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/veilmail/webhook-receiver/internal/models"
)

// mysqlTimeLayout is the literal format sent to and read back from
// DATETIME(6) columns. Values are always rendered in UTC.
const mysqlTimeLayout = "2006-01-02 15:04:05.000000"

// MySQLStore persists events in a MySQL server through database/sql.
type MySQLStore struct {
	url   string
	table string
	db    *sql.DB
}

// NewMySQLStore builds an unconnected store. table falls back to
// DefaultTable when empty. url is a go-sql-driver DSN, e.g.
// "user:pass@tcp(localhost:3306)/veilmail".
func NewMySQLStore(url, table string) *MySQLStore {
	if table == "" {
		table = DefaultTable
	}
	return &MySQLStore{url: url, table: table}
}

func (m *MySQLStore) Kind() string { return KindMySQL }

// Connect opens the connection pool and fails fast if the server is
// unreachable.
func (m *MySQLStore) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", m.url)
	if err != nil {
		return &ConnectionError{Backend: KindMySQL, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &ConnectionError{Backend: KindMySQL, Err: err}
	}
	m.db = db
	return nil
}

// EnsureSchema creates the events table if absent. MySQL has no
// CREATE INDEX IF NOT EXISTS, so the secondary keys are declared inside
// the table definition.
func (m *MySQLStore) EnsureSchema(ctx context.Context) error {
	if m.db == nil {
		return ErrNotConnected
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		"id CHAR(36) PRIMARY KEY, "+
		"event_type VARCHAR(191) NOT NULL, "+
		"event_id VARCHAR(191) NOT NULL, "+
		"data JSON NOT NULL, "+
		"created_at DATETIME(6) NOT NULL, "+
		"received_at DATETIME(6) NOT NULL, "+
		"UNIQUE KEY `%s` (event_id), "+
		"KEY `%s` (event_type), "+
		"KEY `%s` (created_at DESC)"+
		")", m.table, m.table+"_event_id_key", m.table+"_event_type_idx", m.table+"_created_at_idx")

	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return &StorageError{Backend: KindMySQL, Op: "ensure schema", Err: err}
	}
	return nil
}

// Insert writes one event. INSERT IGNORE makes a duplicate event_id a
// silent no-op, resolved atomically by the unique key.
func (m *MySQLStore) Insert(ctx context.Context, ev models.Event) error {
	if m.db == nil {
		return ErrNotConnected
	}

	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return &StorageError{Backend: KindMySQL, Op: "insert", Err: err}
	}

	stmt := fmt.Sprintf("INSERT IGNORE INTO `%s` (id, event_type, event_id, data, created_at, received_at) VALUES (?, ?, ?, ?, ?, ?)", m.table)
	_, err = m.db.ExecContext(ctx, stmt,
		ev.ID, ev.EventType, ev.EventID, string(dataJSON),
		ev.CreatedAt.UTC().Format(mysqlTimeLayout),
		ev.ReceivedAt.UTC().Format(mysqlTimeLayout),
	)
	if err != nil {
		return &StorageError{Backend: KindMySQL, Op: "insert", Err: err}
	}
	return nil
}

// Query returns events newest-first, optionally filtered by exact
// event_type, with limit/offset pagination.
func (m *MySQLStore) Query(ctx context.Context, f QueryFilter) ([]models.Event, error) {
	if m.db == nil {
		return nil, ErrNotConnected
	}
	f = f.normalized()

	query := fmt.Sprintf("SELECT id, event_type, event_id, data, created_at, received_at FROM `%s`", m.table)
	args := []interface{}{}
	if f.Type != "" {
		query += " WHERE event_type = ?"
		args = append(args, f.Type)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Backend: KindMySQL, Op: "query", Err: err}
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		var raw, createdAt, receivedAt []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.EventID, &raw, &createdAt, &receivedAt); err != nil {
			return nil, &StorageError{Backend: KindMySQL, Op: "query", Err: err}
		}
		if ev.Data, err = decodeData(raw); err != nil {
			return nil, &StorageError{Backend: KindMySQL, Op: "query", Err: err}
		}
		if ev.CreatedAt, err = parseStoredTime(string(createdAt), mysqlTimeLayout); err != nil {
			return nil, &StorageError{Backend: KindMySQL, Op: "query", Err: err}
		}
		if ev.ReceivedAt, err = parseStoredTime(string(receivedAt), mysqlTimeLayout); err != nil {
			return nil, &StorageError{Backend: KindMySQL, Op: "query", Err: err}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: KindMySQL, Op: "query", Err: err}
	}
	return events, nil
}

// parseStoredTime decodes a timestamp column rendered as text. The
// primary layout is the one the backend writes; RFC3339Nano covers
// values surfaced by drivers configured to parse times themselves.
func parseStoredTime(s string, layout string) (time.Time, error) {
	if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable stored timestamp %q", s)
	}
	return t.UTC(), nil
}

// Close releases the connection pool. Repeated calls are no-ops.
func (m *MySQLStore) Close() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}
