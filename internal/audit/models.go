// Package audit defines the audit record domain model and its store contract.
//
// A Record is the terminal artifact of the pipeline: the consumer correlates a
// published event with the "before" and "after" snapshots the business layer
// wrote, and persists exactly one Record per event id. Records are append-only
// and immutable once written.
package audit

import (
	"time"

	"github.com/google/uuid"

	"worktrail/internal/event"
)

// DefaultActor is recorded when no acting principal is available. Real actor
// attribution requires an authentication context the event wire format does
// not carry.
const DefaultActor = "system"

// Record is one finished audit trail entry. EventID is the join key back to
// the envelope and snapshots that produced it; Before and After hold the
// normalized entity state around the mutation, either of which may be null.
type Record struct {
	ID         uuid.UUID         `json:"id"`
	EventID    string            `json:"eventId"`
	EventType  string            `json:"eventType"`
	EntityType string            `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Actor      string            `json:"actor"`
	Timestamp  time.Time         `json:"timestamp"`
	Before     event.Value       `json:"before"`
	After      event.Value       `json:"after"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
