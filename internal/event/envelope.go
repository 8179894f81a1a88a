// Package event defines the wire contract of the audit pipeline: the
// envelope published per domain mutation, routing-key bindings, and the
// normalized Value payloads and snapshots are converted into.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is one published domain event. Immutable after publish; the
// EventID is the join key between the envelope, its snapshots and the
// resulting audit record.
type Envelope struct {
	EventID   string
	EventType string
	Timestamp time.Time
	Data      Value
}

// wireEnvelope is the JSON shape on the broker. Field names are PascalCase,
// matching the platform's payload convention.
type wireEnvelope struct {
	EventID   string `json:"EventId"`
	EventType string `json:"EventType"`
	Timestamp string `json:"Timestamp"`
	Data      Value  `json:"Data"`
}

// Encode renders the envelope as wire JSON. The timestamp is always emitted
// in UTC.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(wireEnvelope{
		EventID:   e.EventID,
		EventType: e.EventType,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      e.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses wire JSON into an Envelope.
//
// Decode is deliberately tolerant of field-level damage: a missing or
// non-string EventId leaves EventID empty (the consumer synthesizes one), a
// missing or unparseable Timestamp leaves it zero, missing Data decodes as
// null. Only a body that is not a JSON object at all is an error.
func Decode(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	var env Envelope
	if s, ok := raw["EventId"].(string); ok {
		env.EventID = s
	}
	if s, ok := raw["EventType"].(string); ok {
		env.EventType = s
	}
	if s, ok := raw["Timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			env.Timestamp = ts.UTC()
		}
	}
	if d, ok := raw["Data"]; ok {
		v, err := normalize(d)
		if err != nil {
			return Envelope{}, fmt.Errorf("decode envelope data: %w", err)
		}
		env.Data = v
	}

	return env, nil
}
