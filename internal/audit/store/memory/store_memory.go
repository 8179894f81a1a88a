package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	audit "worktrail/internal/audit"
	"worktrail/pkg/platform/sentinel"
)

// InMemoryStore keeps audit records in process memory. It mirrors the
// uniqueness and ordering semantics of the Postgres store so unit tests and
// the pipeline harness can swap it in for the real thing.
type InMemoryStore struct {
	mu      sync.RWMutex
	byEvent map[string]audit.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byEvent: make(map[string]audit.Record)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEvent = make(map[string]audit.Record)
}

func (s *InMemoryStore) Insert(_ context.Context, record audit.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEvent[record.EventID]; exists {
		return false, nil
	}
	s.byEvent[record.EventID] = cloneRecord(record)
	return true, nil
}

func (s *InMemoryStore) FindByEventID(_ context.Context, eventID string) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byEvent[eventID]
	if !ok {
		return audit.Record{}, sentinel.ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *InMemoryStore) List(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []audit.Record
	for _, record := range s.byEvent {
		if matches(filter, record) {
			records = append(records, cloneRecord(record))
		}
	}

	// Newest first; event id breaks timestamp ties so results are stable.
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].EventID < records[j].EventID
	})

	if limit := filter.EffectiveLimit(); len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func matches(f audit.Filter, r audit.Record) bool {
	if f.EntityType != "" && r.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.EventType != "" && r.EventType != f.EventType {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}

// cloneRecord copies the metadata map so callers cannot mutate stored state.
func cloneRecord(r audit.Record) audit.Record {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}
