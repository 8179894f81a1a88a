package handler

import (
	"time"

	audit "worktrail/internal/audit"
	"worktrail/internal/event"
)

// RecordResponse is the HTTP shape of one audit record. Before and After
// carry the normalized state as plain JSON; null means the state was not
// captured for that side of the mutation.
type RecordResponse struct {
	ID         string            `json:"id"`
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

// ListRecordsResponse is the HTTP response for GET /audit/records.
type ListRecordsResponse struct {
	Records []RecordResponse `json:"records"`
	Count   int              `json:"count"`
}

// FromRecord converts a domain record to its HTTP shape.
func FromRecord(record audit.Record) RecordResponse {
	return RecordResponse{
		ID:         record.ID.String(),
		EventID:    record.EventID,
		EventType:  record.EventType,
		EntityType: record.EntityType,
		EntityID:   record.EntityID,
		Actor:      record.Actor,
		Timestamp:  record.Timestamp,
		Before:     record.Before,
		After:      record.After,
		Metadata:   record.Metadata,
	}
}

// FromRecords converts a record list, keeping an empty (not null) records
// array for callers.
func FromRecords(records []audit.Record) ListRecordsResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, FromRecord(record))
	}
	return ListRecordsResponse{Records: out, Count: len(out)}
}
