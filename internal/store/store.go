// Package store provides the durable persistence layer for webhook
// events behind one backend-agnostic contract with three interchangeable
// implementations: PostgreSQL, MySQL, and embedded SQLite. All
// store-specific SQL, type mapping, and identifier quoting lives inside
// the individual backends; callers only ever see the Store interface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/veilmail/webhook-receiver/internal/models"
)

// Backend kind names, also the accepted database.type config values.
const (
	KindPostgres = "postgres"
	KindMySQL    = "mysql"
	KindSQLite   = "sqlite"
)

// DefaultTable is used when no table name is configured.
const DefaultTable = "webhook_events"

// DefaultLimit applies when a query filter carries no limit.
const DefaultLimit = 50

// ErrNotConnected is returned by every operation invoked before Connect
// or after Close. Reaching it from a live request path is a programming
// error, not an operational condition.
var ErrNotConnected = errors.New("store is not connected")

// ConnectionError reports a failure to establish the backend connection.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StorageError reports a backend failure during a post-connect operation.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// QueryFilter narrows and pages a Query call. All fields are optional;
// zero values select the defaults.
type QueryFilter struct {
	// Type is an exact match on event_type when non-empty.
	Type string
	// Limit caps the number of returned rows; <=0 means DefaultLimit.
	// The HTTP layer clamps caller-supplied values to [1, 1000].
	Limit int
	// Offset skips that many rows; negative values mean 0.
	Offset int
}

func (f QueryFilter) normalized() QueryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store is the polymorphic storage contract. Every backend reproduces
// the same externally observable behavior:
//
//   - Connect must be called first; all other operations return
//     ErrNotConnected beforehand and after Close.
//   - EnsureSchema is create-if-absent and safe to call repeatedly.
//   - Insert is an idempotent upsert-ignore on event_id, enforced by the
//     backend's native conflict-avoidance so it holds under concurrency.
//   - Query returns rows ordered by created_at descending, decoded back
//     into the canonical Event shape.
//   - Close is idempotent.
type Store interface {
	Connect(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, ev models.Event) error
	Query(ctx context.Context, f QueryFilter) ([]models.Event, error)
	Kind() string
	Close() error
}

// New maps a configured backend kind to its constructor. Only the chosen
// variant is instantiated; the other backends' drivers stay idle.
func New(kind, url, table string) (Store, error) {
	switch kind {
	case KindPostgres:
		return NewPostgresStore(url, table), nil
	case KindMySQL:
		return NewMySQLStore(url, table), nil
	case KindSQLite:
		return NewSQLiteStore(url, table), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", kind)
	}
}

// decodeData parses a stored JSON document back into the canonical
// structured form, whether the backend kept it as native JSON or text.
func decodeData(raw []byte) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
