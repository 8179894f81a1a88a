package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"worktrail/pkg/platform/circuit"
	"worktrail/pkg/platform/sentinel"
)

var getDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "worktrail_snapshot_get_duration_ms",
	Help:    "Latency of snapshot reads in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
})

// RedisStore is the production snapshot store.
//
// A circuit breaker guards the connection: after enough consecutive
// failures the store stops dialing Redis for a cooldown and answers from
// the degraded path immediately (reads absent, deletes no-op, sets
// unavailable), so a Redis outage does not add per-operation dial latency
// to the pipeline.
type RedisStore struct {
	client  *redis.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *Metrics
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithLogger sets the logger for degraded-path reporting.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) RedisOption {
	return func(s *RedisStore) {
		s.metrics = m
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) RedisOption {
	return func(s *RedisStore) {
		s.breaker = b
	}
}

// NewRedisStore creates a snapshot store on an externally managed client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		breaker: circuit.New("snapshot-redis", circuit.WithCooldown(30*time.Second)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set writes a snapshot with the given TTL. Failures are returned to the
// caller: the "before" write gates publishing, so it must not be lost
// silently. While the circuit is open, Set fails fast with
// sentinel.ErrUnavailable.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.breaker.Allow() {
		s.metrics.IncOperation("set", "skipped")
		return fmt.Errorf("set snapshot %s: %w", key, sentinel.ErrUnavailable)
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.recordFailure(err)
		s.metrics.IncOperation("set", "error")
		return fmt.Errorf("set snapshot %s: %w", key, err)
	}

	s.recordSuccess()
	s.metrics.IncOperation("set", "ok")
	return nil
}

// Get reads a snapshot. Both a genuine miss and an infrastructure failure
// return absent; failures are logged and counted here instead.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.breaker.Allow() {
		s.metrics.IncOperation("get", "skipped")
		return nil, false
	}

	start := time.Now()
	val, err := s.client.Get(ctx, key).Bytes()
	getDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)

	if errors.Is(err, redis.Nil) {
		s.recordSuccess()
		s.metrics.IncOperation("get", "miss")
		return nil, false
	}
	if err != nil {
		s.recordFailure(err)
		s.metrics.IncOperation("get", "error")
		s.logger.ErrorContext(ctx, "snapshot read failed, treating as absent",
			"key", key,
			"error", err,
		)
		return nil, false
	}

	s.recordSuccess()
	s.metrics.IncOperation("get", "ok")
	return val, true
}

// Delete removes a snapshot. Failures degrade to a no-op; the TTL is the
// backstop.
func (s *RedisStore) Delete(ctx context.Context, key string) {
	if !s.breaker.Allow() {
		s.metrics.IncOperation("delete", "skipped")
		return
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure(err)
		s.metrics.IncOperation("delete", "error")
		s.logger.ErrorContext(ctx, "snapshot delete failed, key will expire via TTL",
			"key", key,
			"error", err,
		)
		return
	}

	s.recordSuccess()
	s.metrics.IncOperation("delete", "ok")
}

// Exists reports whether a snapshot is present. Infrastructure failures
// report false.
func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	if !s.breaker.Allow() {
		s.metrics.IncOperation("exists", "skipped")
		return false
	}

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.recordFailure(err)
		s.metrics.IncOperation("exists", "error")
		s.logger.ErrorContext(ctx, "snapshot existence check failed, treating as absent",
			"key", key,
			"error", err,
		)
		return false
	}

	s.recordSuccess()
	s.metrics.IncOperation("exists", "ok")
	return n > 0
}

// recordFailure feeds the breaker. Context ends are the caller's budget,
// not store health, so they do not move the circuit.
func (s *RedisStore) recordFailure(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.metrics.SetBreakerOpen(true)
		s.logger.Warn("snapshot store circuit opened",
			"breaker", s.breaker.Name(),
			"error", err,
		)
	}
}

func (s *RedisStore) recordSuccess() {
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetBreakerOpen(false)
		s.logger.Info("snapshot store circuit closed", "breaker", s.breaker.Name())
	}
}
