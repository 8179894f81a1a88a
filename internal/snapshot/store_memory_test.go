package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) TestSetGetRoundTrip() {
	ctx := context.Background()
	key := Key("evt-1", PhaseBefore)

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{"Id":"E1"}`), time.Minute))

	got, ok := s.store.Get(ctx, key)
	s.Require().True(ok)
	s.Equal([]byte(`{"Id":"E1"}`), got)
	s.True(s.store.Exists(ctx, key))
}

func (s *MemoryStoreSuite) TestGetMissingKey() {
	got, ok := s.store.Get(context.Background(), Key("evt-404", PhaseAfter))
	s.False(ok)
	s.Nil(got)
}

func (s *MemoryStoreSuite) TestEntriesExpire() {
	ctx := context.Background()
	key := Key("evt-2", PhaseAfter)

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{}`), 10*time.Millisecond))
	s.True(s.store.Exists(ctx, key))

	time.Sleep(25 * time.Millisecond)

	_, ok := s.store.Get(ctx, key)
	s.False(ok)
	s.False(s.store.Exists(ctx, key))
}

func (s *MemoryStoreSuite) TestNonPositiveTTLNeverExpires() {
	ctx := context.Background()
	key := Key("evt-3", PhaseBefore)

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{}`), 0))

	time.Sleep(15 * time.Millisecond)
	s.True(s.store.Exists(ctx, key))
}

func (s *MemoryStoreSuite) TestDelete() {
	ctx := context.Background()
	key := Key("evt-4", PhaseBefore)

	s.Require().NoError(s.store.Set(ctx, key, []byte(`{}`), time.Minute))
	s.store.Delete(ctx, key)
	s.False(s.store.Exists(ctx, key))

	// Deleting an absent key is a no-op.
	s.store.Delete(ctx, key)
}

func (s *MemoryStoreSuite) TestStoredValueIsCopied() {
	ctx := context.Background()
	key := Key("evt-5", PhaseBefore)

	original := []byte(`{"Name":"Foo"}`)
	s.Require().NoError(s.store.Set(ctx, key, original, time.Minute))
	original[2] = 'X'

	got, ok := s.store.Get(ctx, key)
	s.Require().True(ok)
	s.Equal([]byte(`{"Name":"Foo"}`), got)
}

func TestKey(t *testing.T) {
	tests := []struct {
		eventID  string
		phase    Phase
		expected string
	}{
		{eventID: "evt-1", phase: PhaseBefore, expected: "audit:evt-1:before"},
		{eventID: "evt-1", phase: PhaseAfter, expected: "audit:evt-1:after"},
	}
	for _, tt := range tests {
		if got := Key(tt.eventID, tt.phase); got != tt.expected {
			t.Fatalf("Key(%q, %q) = %q, want %q", tt.eventID, tt.phase, got, tt.expected)
		}
	}
}
