// Package recorder packages the caller side of the audit pipeline contract.
//
// The pipeline requires a strict order per mutation: write the "before"
// snapshot, mutate, write the "after" snapshot, then publish — all under one
// event id — because the published event is what triggers consumption and
// the consumer expects both snapshots to already be visible. Recorder
// encodes that order so business services cannot get it wrong:
//
//	m, err := rec.Begin(ctx, "employee.updated", beforeState)
//	if err != nil { return err }            // nothing published, state intact
//	if err := mutate(); err != nil {
//		m.Abandon(ctx)                      // best-effort snapshot cleanup
//		return err
//	}
//	eventID, err := m.Commit(ctx, afterState, payload)
//
// Snapshots must be scalar-only projections: callers strip relational and
// navigation fields before handing state to Begin or Commit.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"worktrail/internal/audit/publisher"
	"worktrail/internal/event"
	"worktrail/internal/snapshot"
)

// Publisher publishes one envelope per mutation. Satisfied by
// publisher.Publisher.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any, opts ...publisher.PublishOption) (string, error)
}

// Recorder hands out Mutations, one per business operation.
type Recorder struct {
	snapshots snapshot.Store
	publisher Publisher
	ttl       time.Duration
	logger    *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTTL overrides how long unconsumed snapshots survive.
func WithTTL(ttl time.Duration) Option {
	return func(r *Recorder) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Recorder writing snapshots to snapshots and events through pub.
func New(snapshots snapshot.Store, pub Publisher, opts ...Option) *Recorder {
	r := &Recorder{
		snapshots: snapshots,
		publisher: pub,
		ttl:       snapshot.DefaultTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin allocates the mutation's event id and captures the pre-mutation
// state. A nil before skips the snapshot (creates have no prior state). A
// failed snapshot write is a hard error: proceeding would publish an event
// whose before state the consumer could never retrieve, so the caller must
// abort the business operation instead.
func (r *Recorder) Begin(ctx context.Context, eventType string, before any) (*Mutation, error) {
	if event.NormalizeRoutingKey(eventType) == "" {
		return nil, errors.New("event type is required")
	}

	m := &Mutation{
		recorder:  r,
		eventID:   uuid.NewString(),
		eventType: eventType,
	}

	if before != nil {
		if err := r.writeSnapshot(ctx, m.eventID, snapshot.PhaseBefore, before); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (r *Recorder) writeSnapshot(ctx context.Context, eventID string, phase snapshot.Phase, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", phase, err)
	}
	if err := r.snapshots.Set(ctx, snapshot.Key(eventID, phase), data, r.ttl); err != nil {
		return fmt.Errorf("write %s snapshot: %w", phase, err)
	}
	return nil
}

// Mutation is one in-flight business operation's handle on the pipeline.
// It is single-use and not safe for concurrent use: exactly one of Commit or
// Abandon should be called, once, by the goroutine that called Begin.
type Mutation struct {
	recorder  *Recorder
	eventID   string
	eventType string
	done      bool
}

// EventID returns the id correlating this mutation's snapshots, envelope and
// audit record.
func (m *Mutation) EventID() string {
	return m.eventID
}

// Commit captures the post-mutation state and publishes the event, in that
// order. A nil after skips the snapshot (deletes have no resulting state; the
// consumer then records the published payload as the after state). Any
// failure, including the snapshot write, aborts before publishing so no
// event can exist whose announced state was never captured.
func (m *Mutation) Commit(ctx context.Context, after any, payload any) (string, error) {
	if m.done {
		return "", errors.New("mutation already finished")
	}

	if after != nil {
		if err := m.recorder.writeSnapshot(ctx, m.eventID, snapshot.PhaseAfter, after); err != nil {
			return "", err
		}
	}

	eventID, err := m.recorder.publisher.Publish(ctx, m.eventType, payload,
		publisher.WithEventID(m.eventID),
	)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", m.eventType, err)
	}

	m.done = true
	return eventID, nil
}

// Abandon discards the mutation after a failed business operation. Snapshot
// removal is best-effort; the TTL reaps anything the store could not delete.
func (m *Mutation) Abandon(ctx context.Context) {
	if m.done {
		return
	}
	m.done = true

	m.recorder.snapshots.Delete(ctx, snapshot.Key(m.eventID, snapshot.PhaseBefore))
	m.recorder.snapshots.Delete(ctx, snapshot.Key(m.eventID, snapshot.PhaseAfter))
	m.recorder.logger.DebugContext(ctx, "mutation abandoned", "event_id", m.eventID)
}
