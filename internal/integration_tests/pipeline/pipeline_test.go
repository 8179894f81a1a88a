//go:build integration

// Package pipeline exercises the full audit path over a real broker: the
// recorder writes snapshots and publishes, the consumer group delivers, and
// the builder persists records. Snapshot and record stores are in-memory so
// the assertions stay on pipeline behavior, not storage plumbing.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "worktrail/internal/audit"
	"worktrail/internal/audit/builder"
	auditconsumer "worktrail/internal/audit/consumer"
	"worktrail/internal/audit/publisher"
	"worktrail/internal/audit/recorder"
	"worktrail/internal/audit/store/memory"
	"worktrail/internal/event"
	"worktrail/internal/platform/kafka/admin"
	platformconsumer "worktrail/internal/platform/kafka/consumer"
	"worktrail/internal/platform/kafka/producer"
	"worktrail/internal/snapshot"
	"worktrail/pkg/testutil/containers"
)

const waitFor = 60 * time.Second

type PipelineSuite struct {
	suite.Suite
	brokers []string
	logger  *slog.Logger
}

func TestPipelineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stack is one test's isolated slice of the pipeline: unique topics and
// consumer group so suites sharing the container never cross-talk.
type stack struct {
	prefix   string
	dlqTopic string
	prod     *producer.Producer
	pub      *publisher.Publisher
	snaps    *snapshot.MemoryStore
	records  *memory.InMemoryStore
	rec      *recorder.Recorder
}

func (s *PipelineSuite) newStack(ctx context.Context) *stack {
	run := uuid.NewString()[:8]
	st := &stack{
		prefix:   "audit-" + run + ".event.",
		dlqTopic: "audit-" + run + ".deadletter",
		snaps:    snapshot.NewMemoryStore(),
		records:  memory.NewInMemoryStore(),
	}

	s.Require().NoError(admin.EnsureTopics(ctx, s.logger, s.brokers, 1, 1,
		st.prefix+"employee.updated",
		st.dlqTopic,
	))

	prod, err := producer.New(s.brokers, producer.WithLogger(s.logger))
	s.Require().NoError(err)
	s.T().Cleanup(prod.Close)
	st.prod = prod

	st.pub = publisher.New(prod, st.prefix, publisher.WithLogger(s.logger))
	st.rec = recorder.New(st.snaps, st.pub, recorder.WithLogger(s.logger))
	return st
}

// startConsumer runs a pipeline consumer group member until the test ends.
func (s *PipelineSuite) startConsumer(ctx context.Context, st *stack, handler platformconsumer.Handler) {
	cons, err := platformconsumer.New(platformconsumer.Config{
		Brokers:        s.brokers,
		Group:          "grp-" + uuid.NewString()[:8],
		TopicRegexes:   []string{regexp.QuoteMeta(st.prefix) + ".*"},
		ProcessTimeout: 10 * time.Second,
	}, handler, platformconsumer.WithLogger(s.logger))
	s.Require().NoError(err)
	s.T().Cleanup(cons.Close)

	go func() { _ = cons.Run(ctx) }()
}

func (s *PipelineSuite) TestMutationFlowsToAuditRecord() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := s.newStack(ctx)

	recordBuilder := builder.New(st.records, st.snaps, builder.WithLogger(s.logger))
	pipeline := auditconsumer.New(recordBuilder, st.prod, st.dlqTopic,
		auditconsumer.WithLogger(s.logger))
	s.startConsumer(ctx, st, pipeline)

	m, err := st.rec.Begin(ctx, "employee.updated", map[string]any{"EmployeeId": "E7", "Salary": 90000})
	s.Require().NoError(err)
	eventID, err := m.Commit(ctx,
		map[string]any{"EmployeeId": "E7", "Salary": 95000},
		map[string]any{"EmployeeId": "E7", "Salary": 95000},
	)
	s.Require().NoError(err)

	var record audit.Record
	s.Require().Eventually(func() bool {
		var findErr error
		record, findErr = st.records.FindByEventID(ctx, eventID)
		return findErr == nil
	}, waitFor, 250*time.Millisecond, "audit record should be built")

	s.Equal("employee.updated", record.EventType)
	s.Equal("Employee", record.EntityType)
	s.Equal("E7", record.EntityID)
	s.Equal(audit.DefaultActor, record.Actor)
	s.Equal(st.prefix+"employee.updated", record.Metadata["sourceTopic"])

	salaryBefore, ok := record.Before.Field("Salary")
	s.Require().True(ok)
	s.Equal(event.Int(90000), salaryBefore)
	salaryAfter, ok := record.After.Field("Salary")
	s.Require().True(ok)
	s.Equal(event.Int(95000), salaryAfter)

	s.False(st.snaps.Exists(ctx, snapshot.Key(eventID, snapshot.PhaseBefore)), "before snapshot should be cleaned up")
	s.False(st.snaps.Exists(ctx, snapshot.Key(eventID, snapshot.PhaseAfter)), "after snapshot should be cleaned up")
}

func (s *PipelineSuite) TestRepublishedEventCreatesOneRecord() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := s.newStack(ctx)

	var processed atomic.Int64
	recordBuilder := builder.New(st.records, st.snaps, builder.WithLogger(s.logger))
	counting := countingBuilder{inner: recordBuilder, processed: &processed}
	pipeline := auditconsumer.New(counting, st.prod, st.dlqTopic,
		auditconsumer.WithLogger(s.logger))
	s.startConsumer(ctx, st, pipeline)

	eventID := uuid.NewString()
	payload := map[string]any{"EmployeeId": "E8", "Salary": 70000}
	for i := 0; i < 2; i++ {
		_, err := st.pub.Publish(ctx, "employee.updated", payload, publisher.WithEventID(eventID))
		s.Require().NoError(err)
	}

	s.Require().Eventually(func() bool {
		return processed.Load() >= 2
	}, waitFor, 250*time.Millisecond, "both deliveries should be processed")

	all, err := st.records.List(ctx, audit.Filter{})
	s.Require().NoError(err)
	matches := 0
	for _, r := range all {
		if r.EventID == eventID {
			matches++
		}
	}
	s.Equal(1, matches, "duplicate delivery must not create a second record")
}

func (s *PipelineSuite) TestPoisonMessageRoutesToDeadLetter() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := s.newStack(ctx)

	pipeline := auditconsumer.New(failingBuilder{}, st.prod, st.dlqTopic,
		auditconsumer.WithLogger(s.logger),
		auditconsumer.WithMaxRetries(1))
	s.startConsumer(ctx, st, pipeline)

	var deadLettered sync.Map
	dlqCons, err := platformconsumer.New(platformconsumer.Config{
		Brokers:      s.brokers,
		Group:        "dlq-" + uuid.NewString()[:8],
		TopicRegexes: []string{regexp.QuoteMeta(st.dlqTopic)},
	}, platformconsumer.HandlerFunc(func(ctx context.Context, msg *platformconsumer.Message) error {
		env, decodeErr := event.Decode(msg.Value)
		if decodeErr == nil {
			deadLettered.Store(env.EventID, msg)
		}
		return nil
	}), platformconsumer.WithLogger(s.logger))
	s.Require().NoError(err)
	s.T().Cleanup(dlqCons.Close)
	go func() { _ = dlqCons.Run(ctx) }()

	eventID, err := st.pub.Publish(ctx, "employee.updated", map[string]any{"EmployeeId": "E9"})
	s.Require().NoError(err)

	var msg *platformconsumer.Message
	s.Require().Eventually(func() bool {
		v, ok := deadLettered.Load(eventID)
		if ok {
			msg = v.(*platformconsumer.Message)
		}
		return ok
	}, waitFor, 250*time.Millisecond, "poison message should reach the dead-letter topic")

	s.Equal("1", string(msg.Headers[auditconsumer.HeaderRetries]))
	s.Equal(st.prefix+"employee.updated", string(msg.Headers[auditconsumer.HeaderSourceTopic]))
	s.Contains(string(msg.Headers[auditconsumer.HeaderFailure]), "record build rejected")
}

type countingBuilder struct {
	inner     auditconsumer.RecordBuilder
	processed *atomic.Int64
}

func (c countingBuilder) Process(ctx context.Context, env event.Envelope, metadata map[string]string) error {
	err := c.inner.Process(ctx, env, metadata)
	c.processed.Add(1)
	return err
}

type failingBuilder struct{}

func (failingBuilder) Process(context.Context, event.Envelope, map[string]string) error {
	return errors.New("record build rejected")
}
