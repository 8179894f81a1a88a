// Package consumer wraps franz-go group consumption with manual commits.
//
// The loop polls, hands each record to a Handler, and commits the record's
// offset when the Handler returns nil. A non-nil error leaves the offset
// uncommitted and skips the rest of that partition's batch, so the broker
// redelivers from the failed record onward. Handlers that need finer-grained
// outcomes (requeue, dead-letter) produce those themselves and return nil to
// acknowledge the original.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"worktrail/internal/platform/kafka"
)

// Message is a single consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time
}

// Handler processes consumed messages. Return nil to commit the offset;
// return an error to leave it uncommitted for redelivery.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Config captures group membership and subscription.
//
// TopicRegexes are full-match regular expressions; the subscription picks up
// newly created topics that match on the next metadata refresh.
type Config struct {
	Brokers      []string
	Group        string
	TopicRegexes []string

	// ProcessTimeout bounds a single Handle call. Zero disables the bound.
	ProcessTimeout time.Duration
}

// Consumer runs a poll-handle-commit loop as one member of a consumer group.
// Records within a partition are handled in order; partitions are independent.
type Consumer struct {
	client         *kgo.Client
	handler        Handler
	logger         *slog.Logger
	processTimeout time.Duration
}

// Option configures the Consumer.
type Option func(*Consumer)

// WithLogger sets the loop and client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// New creates a consumer-group member subscribed to cfg.TopicRegexes.
func New(cfg Config, handler Handler, opts ...Option) (*Consumer, error) {
	c := &Consumer{
		handler:        handler,
		logger:         slog.Default(),
		processTimeout: cfg.ProcessTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeRegex(),
		kgo.ConsumeTopics(cfg.TopicRegexes...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(5*time.Second),
		kgo.WithLogger(kafka.NewLogger(c.logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	c.client = client

	return c, nil
}

// Run polls until ctx is cancelled or the client is closed. The error is
// ctx.Err() on cancellation, nil on clean close.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, rec := range p.Records {
				if err := c.process(ctx, rec); err != nil {
					c.logger.ErrorContext(ctx, "message left uncommitted for redelivery",
						"topic", rec.Topic,
						"partition", rec.Partition,
						"offset", rec.Offset,
						"error", err,
					)
					// Skip the rest of this partition's batch; committing a
					// later offset would silently acknowledge this one.
					break
				}
			}
		})
	}
}

func (c *Consumer) process(ctx context.Context, rec *kgo.Record) error {
	hctx := ctx
	if c.processTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.processTimeout)
		defer cancel()
	}

	if err := c.handler.Handle(hctx, fromRecord(rec)); err != nil {
		return err
	}

	if err := c.client.CommitRecords(ctx, rec); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

// Close leaves the group and releases the client. Run returns nil after this.
func (c *Consumer) Close() {
	c.client.Close()
}

func fromRecord(rec *kgo.Record) *Message {
	msg := &Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Timestamp: rec.Timestamp,
	}
	if len(rec.Headers) > 0 {
		msg.Headers = make(map[string][]byte, len(rec.Headers))
		for _, h := range rec.Headers {
			msg.Headers[h.Key] = h.Value
		}
	}
	return msg
}
