// Package consumer drives audit record construction from the event stream.
//
// A Pipeline handles messages delivered by the platform consumer loop:
// decode the envelope, build and persist the audit record, and decide the
// message's fate. Delivery is at-least-once, so every outcome here leans on
// the builder's idempotency rather than on transport guarantees.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditmetrics "worktrail/internal/audit/metrics"
	"worktrail/internal/event"
	platformconsumer "worktrail/internal/platform/kafka/consumer"
	"worktrail/internal/platform/kafka/producer"
	"worktrail/pkg/requestcontext"
)

// Message headers carried across redeliveries. Retries counts how many times
// the pipeline has requeued this message; the others preserve provenance on
// dead-lettered messages.
const (
	HeaderRetries     = "x-retries"
	HeaderFailure     = "x-failure"
	HeaderSourceTopic = "x-source-topic"
)

// DefaultMaxRetries bounds requeueing before a message is dead-lettered. The
// upstream design had no ceiling, which lets a poison message spin forever;
// the bound plus a dead-letter topic is the deliberate hardening here.
const DefaultMaxRetries = 5

// RecordBuilder turns an envelope plus stored snapshots into a persisted
// audit record, exactly once per event id.
type RecordBuilder interface {
	Process(ctx context.Context, env event.Envelope, metadata map[string]string) error
}

// Producer re-produces messages for the requeue and dead-letter paths.
type Producer interface {
	Produce(ctx context.Context, rec producer.Record) error
}

// Pipeline consumes event envelopes and persists audit records.
//
// Outcomes per message:
//   - built (or already recorded): acknowledge.
//   - processing failed, retries left: requeue by re-producing to the source
//     topic with an incremented retry header, then acknowledge the original.
//   - processing failed, retries exhausted: produce to the dead-letter topic
//     with the original body intact, then acknowledge the original.
//   - requeue/dead-letter produce failed: leave the original unacknowledged
//     so the broker redelivers it.
//
// If the acknowledgement after a successful requeue is lost, both the
// original and the requeued copy get delivered; the builder's idempotency
// collapses them into one record.
type Pipeline struct {
	builder    RecordBuilder
	producer   Producer
	dlqTopic   string
	maxRetries int
	logger     *slog.Logger
	metrics    *auditmetrics.Metrics
	tracer     trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithMaxRetries overrides the requeue ceiling. Zero means no requeues:
// the first failure dead-letters the message.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// New creates a Pipeline that builds records via b and routes failed messages
// through prod to their source topic or to dlqTopic.
func New(b RecordBuilder, prod Producer, dlqTopic string, opts ...Option) *Pipeline {
	p := &Pipeline{
		builder:    b,
		producer:   prod,
		dlqTopic:   dlqTopic,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
		tracer:     otel.Tracer("worktrail/internal/audit/consumer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one delivered message. A nil return acknowledges the
// original message, whichever outcome it reached.
func (p *Pipeline) Handle(ctx context.Context, msg *platformconsumer.Message) error {
	start := time.Now()
	attempt := retriesFrom(msg.Headers) + 1

	ctx, span := p.tracer.Start(ctx, "audit.consume",
		trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
			attribute.Int("messaging.delivery_attempt", attempt),
		),
	)
	defer span.End()

	if err := p.process(ctx, msg, span, attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		return p.divert(ctx, msg, err)
	}

	p.metrics.IncProcessed("ok")
	p.metrics.ObserveProcessDuration(time.Since(start))
	return nil
}

func (p *Pipeline) process(ctx context.Context, msg *platformconsumer.Message, span trace.Span, attempt int) error {
	env, err := event.Decode(msg.Value)
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	// A missing event id never rejects the message: synthesize one so the
	// mutation is still recorded. Its snapshots are unreachable without the
	// original id, but a trail entry with no before/after beats no entry.
	if env.EventID == "" {
		env.EventID = uuid.NewString()
		p.logger.WarnContext(ctx, "envelope missing event id, synthesized one",
			"topic", msg.Topic,
			"event_id", env.EventID,
		)
	}
	span.SetAttributes(
		attribute.String("audit.event_id", env.EventID),
		attribute.String("audit.event_type", env.EventType),
	)

	// The broker's receive time stands in for a missing envelope timestamp.
	if env.Timestamp.IsZero() && !msg.Timestamp.IsZero() {
		ctx = requestcontext.WithTime(ctx, msg.Timestamp)
	}

	metadata := map[string]string{
		"sourceTopic":     msg.Topic,
		"partition":       strconv.FormatInt(int64(msg.Partition), 10),
		"offset":          strconv.FormatInt(msg.Offset, 10),
		"deliveryAttempt": strconv.Itoa(attempt),
	}

	if err := p.builder.Process(ctx, env, metadata); err != nil {
		return fmt.Errorf("build audit record %s: %w", env.EventID, err)
	}
	return nil
}

// divert routes a failed message to its source topic or the dead-letter
// topic. Produce failures propagate so the original stays unacknowledged.
func (p *Pipeline) divert(ctx context.Context, msg *platformconsumer.Message, cause error) error {
	retries := retriesFrom(msg.Headers)

	if retries >= p.maxRetries {
		if err := p.producer.Produce(ctx, p.deadLetterRecord(msg, retries, cause)); err != nil {
			return fmt.Errorf("dead-letter produce: %w", err)
		}
		p.metrics.IncProcessed("deadlettered")
		p.logger.ErrorContext(ctx, "message dead-lettered",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"retries", retries,
			"error", cause,
		)
		return nil
	}

	if err := p.producer.Produce(ctx, p.requeueRecord(msg, retries)); err != nil {
		return fmt.Errorf("requeue produce: %w", err)
	}
	p.metrics.IncProcessed("requeued")
	p.logger.WarnContext(ctx, "message requeued",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"retry", retries+1,
		"error", cause,
	)
	return nil
}

func (p *Pipeline) requeueRecord(msg *platformconsumer.Message, retries int) producer.Record {
	headers := cloneHeaders(msg.Headers)
	headers[HeaderRetries] = []byte(strconv.Itoa(retries + 1))
	return producer.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

func (p *Pipeline) deadLetterRecord(msg *platformconsumer.Message, retries int, cause error) producer.Record {
	headers := cloneHeaders(msg.Headers)
	headers[HeaderRetries] = []byte(strconv.Itoa(retries))
	headers[HeaderFailure] = []byte(cause.Error())
	headers[HeaderSourceTopic] = []byte(msg.Topic)
	return producer.Record{
		Topic:   p.dlqTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

// retriesFrom reads the retry header. Absent or garbage counts as zero, which
// restarts the retry budget rather than dead-lettering on a damaged header.
func retriesFrom(headers map[string][]byte) int {
	raw, ok := headers[HeaderRetries]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	cloned := make(map[string][]byte, len(headers)+3)
	for k, v := range headers {
		cloned[k] = v
	}
	return cloned
}
