package audit

import (
	"context"
	"time"
)

// List bounds. A zero filter limit gets DefaultListLimit; requests above
// MaxListLimit are clamped.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Store persists finished audit records. Implementations must enforce
// uniqueness on EventID so that duplicate event delivery cannot create a
// second record.
type Store interface {
	// Insert writes the record unless one with the same EventID already
	// exists. It reports whether the record was created; false with a nil
	// error means another writer got there first.
	Insert(ctx context.Context, record Record) (bool, error)

	// FindByEventID returns the record for the given event id, or
	// sentinel.ErrNotFound (possibly wrapped) when no record exists.
	FindByEventID(ctx context.Context, eventID string) (Record, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter narrows a List call. Zero-valued fields are ignored. From and To
// are inclusive bounds on the record timestamp.
type Filter struct {
	EntityType string
	EntityID   string
	EventType  string
	From       time.Time
	To         time.Time
	Limit      int
}

// EffectiveLimit resolves the filter's limit against the package bounds.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}
