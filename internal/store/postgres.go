package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmail/webhook-receiver/internal/models"
)

// PostgresStore persists events in a PostgreSQL server via a pgx
// connection pool. The pool is shared by all concurrent requests for the
// process lifetime.
type PostgresStore struct {
	url   string
	table string
	pool  *pgxpool.Pool
}

// NewPostgresStore builds an unconnected store. table falls back to
// DefaultTable when empty.
func NewPostgresStore(url, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{url: url, table: table}
}

func (p *PostgresStore) Kind() string { return KindPostgres }

// Connect creates the connection pool and fails fast if the server is
// unreachable.
func (p *PostgresStore) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, p.url)
	if err != nil {
		return &ConnectionError{Backend: KindPostgres, Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return &ConnectionError{Backend: KindPostgres, Err: err}
	}
	p.pool = pool
	return nil
}

// EnsureSchema creates the events table and its indexes if absent. It
// never drops or alters existing structure.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if p.pool == nil {
		return ErrNotConnected
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id UUID PRIMARY KEY,
			event_type TEXT NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		)`, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (event_type)`,
			p.table+"_event_type_idx", p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (created_at DESC)`,
			p.table+"_created_at_idx", p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return &StorageError{Backend: KindPostgres, Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// Insert writes one event. A row with the same event_id already present
// makes the call a silent no-op; the conflict is resolved by the
// database, not by a read-then-write race.
func (p *PostgresStore) Insert(ctx context.Context, ev models.Event) error {
	if p.pool == nil {
		return ErrNotConnected
	}

	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return &StorageError{Backend: KindPostgres, Op: "insert", Err: err}
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, event_type, event_id, data, created_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, p.table), ev.ID, ev.EventType, ev.EventID, dataJSON, ev.CreatedAt.UTC(), ev.ReceivedAt.UTC())
	if err != nil {
		return &StorageError{Backend: KindPostgres, Op: "insert", Err: err}
	}
	return nil
}

// Query returns events newest-first, optionally filtered by exact
// event_type, with limit/offset pagination.
func (p *PostgresStore) Query(ctx context.Context, f QueryFilter) ([]models.Event, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}
	f = f.normalized()

	query := fmt.Sprintf(`
		SELECT id, event_type, event_id, data, created_at, received_at
		FROM %q
	`, p.table)
	args := []interface{}{}
	if f.Type != "" {
		query += ` WHERE event_type = $1`
		args = append(args, f.Type)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Backend: KindPostgres, Op: "query", Err: err}
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		var raw []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.EventID, &raw, &ev.CreatedAt, &ev.ReceivedAt); err != nil {
			return nil, &StorageError{Backend: KindPostgres, Op: "query", Err: err}
		}
		if ev.Data, err = decodeData(raw); err != nil {
			return nil, &StorageError{Backend: KindPostgres, Op: "query", Err: err}
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		ev.ReceivedAt = ev.ReceivedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Backend: KindPostgres, Op: "query", Err: err}
	}
	return events, nil
}

// Close shuts down the connection pool. Repeated calls are no-ops.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}
