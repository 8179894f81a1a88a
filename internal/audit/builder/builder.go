// Package builder turns consumed event envelopes into persisted audit
// records, exactly once per event id.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	audit "worktrail/internal/audit"
	auditmetrics "worktrail/internal/audit/metrics"
	"worktrail/internal/event"
	"worktrail/internal/snapshot"
	"worktrail/pkg/platform/sentinel"
	"worktrail/pkg/requestcontext"
)

// Builder assembles audit records from envelopes and whatever snapshots the
// business layer left behind.
type Builder struct {
	records   audit.Store
	snapshots snapshot.Store
	logger    *slog.Logger
	metrics   *auditmetrics.Metrics
	tracer    trace.Tracer
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// New creates a Builder persisting to records and reading snapshots from
// snapshots.
func New(records audit.Store, snapshots snapshot.Store, opts ...Option) *Builder {
	b := &Builder{
		records:   records,
		snapshots: snapshots,
		logger:    slog.Default(),
		tracer:    otel.Tracer("worktrail/internal/audit/builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Process builds and persists the audit record for env, then clears the
// event's snapshots. Redelivery of an already-recorded event id is a no-op,
// so any nil return means the message can be acknowledged. The metadata map
// is stored on the record as-is; it may be nil.
func (b *Builder) Process(ctx context.Context, env event.Envelope, metadata map[string]string) error {
	if env.EventID == "" {
		return errors.New("event id is required")
	}

	ctx, span := b.tracer.Start(ctx, "audit.build_record",
		trace.WithAttributes(
			attribute.String("audit.event_id", env.EventID),
			attribute.String("audit.event_type", env.EventType),
		),
	)
	defer span.End()

	// Fast path. The store's unique index on event id backstops the race
	// between concurrent deliveries that both miss here.
	_, err := b.records.FindByEventID(ctx, env.EventID)
	switch {
	case err == nil:
		b.metrics.IncDuplicateSkipped()
		b.logger.DebugContext(ctx, "audit record already exists", "event_id", env.EventID)
		return nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return fmt.Errorf("idempotency lookup: %w", err)
	}

	entityType := EntityType(env.EventType)
	entityID := EntityID(entityType, env.Data)

	var (
		beforeState event.Value
		afterState  event.Value
		haveAfter   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		beforeState, _, err = b.fetchSnapshot(gctx, env.EventID, snapshot.PhaseBefore)
		return err
	})
	g.Go(func() error {
		var err error
		afterState, haveAfter, err = b.fetchSnapshot(gctx, env.EventID, snapshot.PhaseAfter)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("gather snapshots: %w", err)
	}

	// The raw event payload is the fallback "after" state, covering creates
	// that never write an explicit after snapshot.
	if !haveAfter {
		afterState = env.Data
	}

	actor := requestcontext.Actor(ctx)
	if actor == "" {
		actor = audit.DefaultActor
	}

	timestamp := env.Timestamp
	if timestamp.IsZero() {
		timestamp = requestcontext.Now(ctx).UTC()
	}

	record := audit.Record{
		ID:         uuid.New(),
		EventID:    env.EventID,
		EventType:  env.EventType,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Timestamp:  timestamp,
		Before:     beforeState,
		After:      afterState,
		Metadata:   metadata,
	}

	created, err := b.records.Insert(ctx, record)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if created {
		b.metrics.IncRecordCreated()
		b.logger.InfoContext(ctx, "audit record created",
			"event_id", env.EventID,
			"event_type", env.EventType,
			"entity_type", entityType,
			"entity_id", entityID,
		)
	} else {
		b.metrics.IncDuplicateSkipped()
		b.logger.DebugContext(ctx, "audit record already exists", "event_id", env.EventID)
	}

	b.cleanupSnapshots(ctx, env.EventID)
	return nil
}

// fetchSnapshot reads and decodes one snapshot phase. A missing key is not an
// error; a snapshot that cannot be decoded is, since persisting the record
// while silently dropping captured state would corrupt the trail.
func (b *Builder) fetchSnapshot(ctx context.Context, eventID string, phase snapshot.Phase) (event.Value, bool, error) {
	raw, ok := b.snapshots.Get(ctx, snapshot.Key(eventID, phase))
	if !ok {
		return event.Null(), false, nil
	}

	value, err := event.DecodeValue(raw)
	if err != nil {
		return event.Null(), false, fmt.Errorf("decode %s snapshot: %w", phase, err)
	}
	return value, true, nil
}

// cleanupSnapshots is best-effort: the snapshot store degrades failed deletes
// to no-ops and the TTL reaps anything left behind.
func (b *Builder) cleanupSnapshots(ctx context.Context, eventID string) {
	b.snapshots.Delete(ctx, snapshot.Key(eventID, snapshot.PhaseBefore))
	b.snapshots.Delete(ctx, snapshot.Key(eventID, snapshot.PhaseAfter))
}
