package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worktrail/internal/audit/publisher"
	"worktrail/internal/event"
	prodpkg "worktrail/internal/platform/kafka/producer"
	"worktrail/internal/snapshot"
)

// capturingProducer backs a real publisher so tests can decode exactly what
// each Commit put on the wire.
type capturingProducer struct {
	err      error
	produced []prodpkg.Record
}

func (p *capturingProducer) Produce(_ context.Context, rec prodpkg.Record) error {
	if p.err != nil {
		return p.err
	}
	p.produced = append(p.produced, rec)
	return nil
}

// failingSnapshots rejects writes so the abort paths can be exercised; reads
// and deletes behave like an empty store.
type failingSnapshots struct {
	setErr error
}

func (f *failingSnapshots) Set(context.Context, string, []byte, time.Duration) error {
	return f.setErr
}
func (f *failingSnapshots) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (f *failingSnapshots) Delete(context.Context, string)             {}
func (f *failingSnapshots) Exists(context.Context, string) bool        { return false }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) (*Recorder, *snapshot.MemoryStore, *capturingProducer) {
	t.Helper()
	snapshots := snapshot.NewMemoryStore()
	prod := &capturingProducer{}
	pub := publisher.New(prod, "audit.event.", publisher.WithLogger(discardLogger()))
	rec := New(snapshots, pub, WithLogger(discardLogger()))
	return rec, snapshots, prod
}

type employee struct {
	EmployeeID string `json:"EmployeeId"`
	Name       string `json:"Name"`
	Salary     int    `json:"Salary"`
}

func TestBeginWritesBeforeSnapshotUnderAllocatedID(t *testing.T) {
	ctx := context.Background()
	rec, snapshots, _ := newHarness(t)

	m, err := rec.Begin(ctx, "employee.updated", employee{EmployeeID: "E1", Name: "Ada", Salary: 98000})
	require.NoError(t, err)
	require.NotEmpty(t, m.EventID())

	raw, ok := snapshots.Get(ctx, snapshot.Key(m.EventID(), snapshot.PhaseBefore))
	require.True(t, ok)

	state, err := event.DecodeValue(raw)
	require.NoError(t, err)
	name, _ := state.Field("Name")
	text, _ := name.Text()
	assert.Equal(t, "Ada", text)
}

func TestBeginWithNilBeforeSkipsSnapshot(t *testing.T) {
	ctx := context.Background()
	rec, snapshots, _ := newHarness(t)

	m, err := rec.Begin(ctx, "employee.created", nil)
	require.NoError(t, err)
	assert.False(t, snapshots.Exists(ctx, snapshot.Key(m.EventID(), snapshot.PhaseBefore)))
}

func TestBeginRequiresEventType(t *testing.T) {
	rec, _, _ := newHarness(t)
	_, err := rec.Begin(context.Background(), "   ", employee{})
	require.ErrorContains(t, err, "event type is required")
}

func TestBeginFailedSnapshotWriteAborts(t *testing.T) {
	prod := &capturingProducer{}
	pub := publisher.New(prod, "audit.event.", publisher.WithLogger(discardLogger()))
	rec := New(&failingSnapshots{setErr: errors.New("redis down")}, pub, WithLogger(discardLogger()))

	_, err := rec.Begin(context.Background(), "employee.updated", employee{EmployeeID: "E1"})
	require.ErrorContains(t, err, "before snapshot")
	assert.Empty(t, prod.produced, "nothing may be published after a failed before write")
}

func TestCommitWritesAfterSnapshotThenPublishesOnce(t *testing.T) {
	ctx := context.Background()
	rec, snapshots, prod := newHarness(t)

	m, err := rec.Begin(ctx, "employee.updated", employee{EmployeeID: "E1", Salary: 98000})
	require.NoError(t, err)

	eventID, err := m.Commit(ctx,
		employee{EmployeeID: "E1", Salary: 105000},
		map[string]string{"EmployeeId": "E1"},
	)
	require.NoError(t, err)
	assert.Equal(t, m.EventID(), eventID, "published id must be the one Begin allocated")

	require.Len(t, prod.produced, 1)
	env, err := event.Decode(prod.produced[0].Value)
	require.NoError(t, err)
	assert.Equal(t, eventID, env.EventID)
	assert.Equal(t, "employee.updated", env.EventType)

	raw, ok := snapshots.Get(ctx, snapshot.Key(eventID, snapshot.PhaseAfter))
	require.True(t, ok, "after snapshot must be visible before the publish lands")
	state, err := event.DecodeValue(raw)
	require.NoError(t, err)
	salary, _ := state.Field("Salary")
	assert.True(t, event.Int(105000).Equal(salary))
}

func TestCommitWithNilAfterPublishesWithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	rec, snapshots, prod := newHarness(t)

	m, err := rec.Begin(ctx, "employee.deleted", employee{EmployeeID: "E1"})
	require.NoError(t, err)

	eventID, err := m.Commit(ctx, nil, map[string]string{"EmployeeId": "E1"})
	require.NoError(t, err)

	assert.False(t, snapshots.Exists(ctx, snapshot.Key(eventID, snapshot.PhaseAfter)))
	assert.Len(t, prod.produced, 1)
}

func TestCommitFailedAfterWritePreventsPublish(t *testing.T) {
	ctx := context.Background()
	snapshots := snapshot.NewMemoryStore()
	prod := &capturingProducer{}
	pub := publisher.New(prod, "audit.event.", publisher.WithLogger(discardLogger()))
	rec := New(snapshots, pub, WithLogger(discardLogger()))

	m, err := rec.Begin(ctx, "employee.updated", nil)
	require.NoError(t, err)

	// Swap in a store that rejects the after write.
	rec.snapshots = &failingSnapshots{setErr: errors.New("redis down")}

	_, err = m.Commit(ctx, employee{EmployeeID: "E1"}, nil)
	require.ErrorContains(t, err, "after snapshot")
	assert.Empty(t, prod.produced)
}

func TestCommitPublishFailurePropagates(t *testing.T) {
	ctx := context.Background()
	snapshots := snapshot.NewMemoryStore()
	prod := &capturingProducer{err: errors.New("broker unreachable")}
	pub := publisher.New(prod, "audit.event.", publisher.WithLogger(discardLogger()))
	rec := New(snapshots, pub, WithLogger(discardLogger()))

	m, err := rec.Begin(ctx, "employee.updated", employee{EmployeeID: "E1"})
	require.NoError(t, err)

	_, err = m.Commit(ctx, employee{EmployeeID: "E1"}, nil)
	require.ErrorContains(t, err, "broker unreachable")
}

func TestCommitIsSingleUse(t *testing.T) {
	ctx := context.Background()
	rec, _, prod := newHarness(t)

	m, err := rec.Begin(ctx, "task.completed", nil)
	require.NoError(t, err)

	_, err = m.Commit(ctx, nil, map[string]string{"Id": "T1"})
	require.NoError(t, err)

	_, err = m.Commit(ctx, nil, map[string]string{"Id": "T1"})
	require.ErrorContains(t, err, "already finished")
	assert.Len(t, prod.produced, 1)
}

func TestAbandonRemovesSnapshotsAndBlocksCommit(t *testing.T) {
	ctx := context.Background()
	rec, snapshots, prod := newHarness(t)

	m, err := rec.Begin(ctx, "employee.updated", employee{EmployeeID: "E1"})
	require.NoError(t, err)
	require.True(t, snapshots.Exists(ctx, snapshot.Key(m.EventID(), snapshot.PhaseBefore)))

	m.Abandon(ctx)
	assert.False(t, snapshots.Exists(ctx, snapshot.Key(m.EventID(), snapshot.PhaseBefore)))

	_, err = m.Commit(ctx, nil, nil)
	require.ErrorContains(t, err, "already finished")
	assert.Empty(t, prod.produced)
}
