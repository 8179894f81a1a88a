// Package snapshot is the cache of entity state captured around a mutation.
//
// The business layer writes a "before" snapshot, mutates, writes an "after"
// snapshot, then publishes the event. The pipeline consumer reads both
// snapshots back by event id to assemble the audit record, then deletes
// them. Keys expire on their own if an event is never consumed.
package snapshot

import (
	"context"
	"time"
)

// Phase distinguishes the two snapshots of one mutation.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// DefaultTTL bounds how long an unconsumed snapshot survives.
const DefaultTTL = time.Hour

// Key returns the cache key for one event's snapshot phase:
// audit:{eventId}:{phase}.
func Key(eventID string, phase Phase) string {
	return "audit:" + eventID + ":" + string(phase)
}

// Store is the snapshot cache contract.
//
// Set surfaces failures to the caller: a failed "before" write means the
// caller must not publish, because the consumer would never see the state.
//
// Get, Delete and Exists degrade gracefully: on any infrastructure failure
// they behave as if the key were absent (or the operation a no-op), logging
// and counting the failure instead of propagating it. A cache outage slows
// nothing down and halts nothing; it only yields audit records with missing
// snapshot data. "Genuinely missing" and "store unreachable" are therefore
// indistinguishable to callers by design.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool)
	Delete(ctx context.Context, key string)
	Exists(ctx context.Context, key string) bool
}
