package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the canonical, storage-ready representation of an inbound
// webhook notification, independent of the original payload's shape.
type Event struct {
	// ID is generated server-side on ingest; callers never supply it.
	ID string `json:"id"`

	// EventType mirrors the payload's "type" field, or "unknown".
	EventType string `json:"event_type"`

	// EventID is the caller-supplied idempotency key ("id" in the
	// payload). At most one row per EventID is ever stored.
	EventID string `json:"event_id"`

	// Data holds the full original payload, verbatim.
	Data map[string]interface{} `json:"data"`

	// CreatedAt comes from the payload's "created_at" field when it
	// parses as RFC3339, otherwise the ingest time.
	CreatedAt time.Time `json:"created_at"`

	// ReceivedAt is always the ingest time, never caller-controlled.
	ReceivedAt time.Time `json:"received_at"`
}

// Normalize maps an arbitrary decoded JSON object plus the receipt time
// into a canonical Event. It never fails: missing or malformed fields
// fall back to defaults. The payload must already have been confirmed to
// be a well-formed JSON object.
func Normalize(payload map[string]interface{}, now time.Time) Event {
	now = now.UTC()

	eventType := "unknown"
	if v, ok := payload["type"].(string); ok && v != "" {
		eventType = v
	}

	eventID := ""
	if v, ok := payload["id"].(string); ok && v != "" {
		eventID = v
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	createdAt := now
	if v, ok := payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			createdAt = t.UTC()
		}
	}

	return Event{
		ID:         uuid.NewString(),
		EventType:  eventType,
		EventID:    eventID,
		Data:       payload,
		CreatedAt:  createdAt,
		ReceivedAt: now,
	}
}
