// Package publisher emits workforce domain events onto the audit topic
// exchange.
//
// Callers must write their snapshot entries before calling Publish: the
// published message is what triggers consumption, and the consumer expects
// any snapshots to already be visible. Publish failures are hard errors;
// a mutation whose event was silently dropped has no audit trail at all.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	auditmetrics "worktrail/internal/audit/metrics"
	"worktrail/internal/event"
	"worktrail/internal/platform/kafka/producer"
	"worktrail/pkg/requestcontext"
)

// Producer is the transport the publisher writes to.
type Producer interface {
	Produce(ctx context.Context, rec producer.Record) error
}

// Publisher turns event types and payloads into published envelopes. It is
// safe for concurrent use; the underlying client handles its own
// synchronization, so callers never need to serialize Publish calls.
type Publisher struct {
	producer    Producer
	topicPrefix string
	logger      *slog.Logger
	metrics     *auditmetrics.Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a publisher that writes envelopes to topics under topicPrefix.
func New(prod Producer, topicPrefix string, opts ...Option) *Publisher {
	p := &Publisher{
		producer:    prod,
		topicPrefix: topicPrefix,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishOption adjusts a single Publish call.
type PublishOption func(*publishParams)

type publishParams struct {
	eventID string
}

// WithEventID pins the envelope's event id instead of generating a fresh one.
// The recorder uses this to keep one id across snapshots and publish.
func WithEventID(eventID string) PublishOption {
	return func(p *publishParams) {
		p.eventID = eventID
	}
}

// Publish emits one event and returns its event id. The event type doubles as
// the routing key after normalization; payload may be any JSON-encodable
// value, including nil.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any, opts ...PublishOption) (string, error) {
	var params publishParams
	for _, opt := range opts {
		opt(&params)
	}

	routingKey := event.NormalizeRoutingKey(eventType)
	if routingKey == "" {
		return "", fmt.Errorf("event type is required")
	}

	data, err := event.ValueOf(payload)
	if err != nil {
		return "", fmt.Errorf("normalize payload: %w", err)
	}

	eventID := params.eventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	env := event.Envelope{
		EventID:   eventID,
		EventType: routingKey,
		Timestamp: requestcontext.Now(ctx).UTC(),
		Data:      data,
	}
	body, err := env.Encode()
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	// Keying by event id keeps redeliveries of one event on one partition.
	rec := producer.Record{
		Topic: event.Topic(p.topicPrefix, routingKey),
		Key:   []byte(eventID),
		Value: body,
	}
	if err := p.producer.Produce(ctx, rec); err != nil {
		p.metrics.IncPublished("error")
		p.logger.ErrorContext(ctx, "event publish failed",
			"event_type", routingKey,
			"event_id", eventID,
			"error", err,
		)
		return "", fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.metrics.IncPublished("ok")
	p.logger.DebugContext(ctx, "event published",
		"event_type", routingKey,
		"event_id", eventID,
	)
	return eventID, nil
}
