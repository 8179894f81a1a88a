// Package producer wraps franz-go with synchronous, acks-all produces.
package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"worktrail/internal/platform/kafka"
)

// Record is a single message to produce. The key determines partition
// placement, so messages sharing a key are ordered relative to each other.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte
}

// Producer produces records synchronously. Every produce waits for
// acknowledgement from all in-sync replicas before returning, so a nil error
// means the record is durable on the broker.
//
// Safe for concurrent use; the underlying client serializes per-partition
// sends internally.
type Producer struct {
	client *kgo.Client
}

// Option configures the Producer.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	clientID string
}

// WithLogger routes franz-go client internals to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClientID overrides the Kafka client id.
func WithClientID(id string) Option {
	return func(o *options) {
		o.clientID = id
	}
}

// New creates a producer connected to the given brokers.
func New(brokers []string, opts ...Option) (*Producer, error) {
	o := options{clientID: "worktrail"}
	for _, opt := range opts {
		opt(&o)
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(o.clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if o.logger != nil {
		kopts = append(kopts, kgo.WithLogger(kafka.NewLogger(o.logger)))
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{client: client}, nil
}

// Produce sends the record and blocks until the broker acknowledges it.
func (p *Producer) Produce(ctx context.Context, rec Record) error {
	krec := &kgo.Record{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Value,
	}
	for k, v := range rec.Headers {
		krec.Headers = append(krec.Headers, kgo.RecordHeader{Key: k, Value: v})
	}

	if err := p.client.ProduceSync(ctx, krec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", rec.Topic, err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
