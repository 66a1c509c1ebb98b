package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmail/webhook-receiver/internal/models"
)

// The contract tests run against the SQLite backend because it needs no
// external server; the query/insert shapes are shared across backends.

func newTestStore(t *testing.T, table string) *SQLiteStore {
	t.Helper()

	st := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"), table)
	ctx := context.Background()
	require.NoError(t, st.Connect(ctx))
	require.NoError(t, st.EnsureSchema(ctx))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func makeEvent(eventID, eventType string, createdAt time.Time) models.Event {
	return models.Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		EventID:   eventID,
		Data: map[string]interface{}{
			"type": eventType,
			"id":   eventID,
		},
		CreatedAt:  createdAt,
		ReceivedAt: createdAt.Add(time.Second),
	}
}

func TestNew_DispatchesByKind(t *testing.T) {
	cases := []struct {
		kind string
		url  string
	}{
		{KindPostgres, "postgres://localhost/veilmail"},
		{KindMySQL, "root@tcp(localhost:3306)/veilmail"},
		{KindSQLite, "events.db"},
	}
	for _, tc := range cases {
		st, err := New(tc.kind, tc.url, "")
		require.NoError(t, err, tc.kind)
		assert.Equal(t, tc.kind, st.Kind())
	}

	_, err := New("mongodb", "mongodb://localhost", "")
	require.Error(t, err)
}

func TestOperationsBeforeConnectFail(t *testing.T) {
	st := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"), "")
	ctx := context.Background()

	assert.ErrorIs(t, st.EnsureSchema(ctx), ErrNotConnected)
	assert.ErrorIs(t, st.Insert(ctx, makeEvent("evt_1", "email.sent", time.Now())), ErrNotConnected)
	_, err := st.Query(ctx, QueryFilter{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseIsIdempotentAndTerminal(t *testing.T) {
	st := newTestStore(t, "")
	ctx := context.Background()

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	assert.ErrorIs(t, st.Insert(ctx, makeEvent("evt_1", "email.sent", time.Now())), ErrNotConnected)
	_, err := st.Query(ctx, QueryFilter{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEnsureSchemaIsRepeatable(t *testing.T) {
	st := newTestStore(t, "")
	ctx := context.Background()

	require.NoError(t, st.EnsureSchema(ctx))
	require.NoError(t, st.EnsureSchema(ctx))

	require.NoError(t, st.Insert(ctx, makeEvent("evt_1", "email.sent", time.Now().UTC())))
	events, err := st.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestInsertDuplicateEventIDIsSilentNoOp(t *testing.T) {
	st := newTestStore(t, "")
	ctx := context.Background()
	now := time.Now().UTC()

	first := makeEvent("evt_dup", "email.delivered", now)
	second := makeEvent("evt_dup", "email.bounced", now.Add(time.Minute))

	require.NoError(t, st.Insert(ctx, first))
	require.NoError(t, st.Insert(ctx, second))

	events, err := st.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	// The original row survives untouched; the repeat is neither an
	// error nor an update.
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, "email.delivered", events[0].EventType)
}

func TestInsertQueryRoundTrip(t *testing.T) {
	st := newTestStore(t, "")
	ctx := context.Background()

	createdAt := time.Date(2026, 8, 27, 9, 15, 42, 123456789, time.UTC)
	ev := models.Event{
		ID:        uuid.NewString(),
		EventType: "email.delivered",
		EventID:   "evt_rt",
		Data: map[string]interface{}{
			"type":      "email.delivered",
			"id":        "evt_rt",
			"recipient": "user@example.com",
			"meta":      map[string]interface{}{"attempt": float64(2)},
		},
		CreatedAt:  createdAt,
		ReceivedAt: createdAt.Add(3 * time.Second),
	}
	require.NoError(t, st.Insert(ctx, ev))

	events, err := st.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.EventType, got.EventType)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, ev.Data, got.Data)
	assert.True(t, got.CreatedAt.Equal(ev.CreatedAt), "created_at: got %v want %v", got.CreatedAt, ev.CreatedAt)
	assert.True(t, got.ReceivedAt.Equal(ev.ReceivedAt), "received_at: got %v want %v", got.ReceivedAt, ev.ReceivedAt)
}

func TestQueryPagination(t *testing.T) {
	st := newTestStore(t, "")
	ctx := context.Background()
	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	// Inserted oldest-first; retrieval is newest-first.
	for i := 0; i < 5; i++ {
		ev := makeEvent(fmt.Sprintf("evt_%d", i), "email.sent", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, st.Insert(ctx, ev))
	}

	events, err := st.Query(ctx, QueryFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// 3rd and 4th most recent.
	assert.Equal(t, "evt_2", events[0].EventID)
	assert.Equal(t, "evt_1", events[1].EventID)
}

func TestQueryTypeFilter(t *testing.T) {
	st := newTestStore(t, "")
	ctx := context.Background()
	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Insert(ctx, makeEvent("evt_a", "email.bounced", base)))
	require.NoError(t, st.Insert(ctx, makeEvent("evt_b", "email.delivered", base.Add(time.Minute))))
	require.NoError(t, st.Insert(ctx, makeEvent("evt_c", "email.bounced", base.Add(2*time.Minute))))

	events, err := st.Query(ctx, QueryFilter{Type: "email.bounced"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "email.bounced", ev.EventType)
	}
	assert.Equal(t, "evt_c", events[0].EventID)
	assert.Equal(t, "evt_a", events[1].EventID)
}

func TestQueryZeroFilterUsesDefaults(t *testing.T) {
	st := newTestStore(t, "")
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Insert(ctx, makeEvent(fmt.Sprintf("evt_%d", i), "email.sent", base.Add(time.Duration(i)*time.Second))))
	}

	events, err := st.Query(ctx, QueryFilter{Limit: 0, Offset: -5})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestCustomTableName(t *testing.T) {
	st := newTestStore(t, "veilmail_notifications")
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, makeEvent("evt_1", "email.sent", time.Now().UTC())))
	events, err := st.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestConnectionErrorNamesBackend(t *testing.T) {
	st := NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "nested", "events.db"), "")
	err := st.Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, KindSQLite, connErr.Backend)
	assert.NotNil(t, connErr.Unwrap())
}
