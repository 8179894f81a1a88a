package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	audit "worktrail/internal/audit"
	"worktrail/internal/event"
	"worktrail/pkg/platform/sentinel"
	txcontext "worktrail/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// Store implements audit.Store on PostgreSQL. The unique index on event_id is
// what makes duplicate event delivery safe: concurrent inserts for the same
// event id race on ON CONFLICT DO NOTHING and exactly one row survives.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit record store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies the embedded schema. Every statement is idempotent, so
// running it at boot or in test setup is safe.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `id, event_id, event_type, entity_type, entity_id, actor, timestamp, before, after, metadata`

// Insert writes the record unless one with the same event id already exists.
func (s *Store) Insert(ctx context.Context, record audit.Record) (bool, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	before, err := marshalValue(record.Before)
	if err != nil {
		return false, fmt.Errorf("marshal before state: %w", err)
	}
	after, err := marshalValue(record.After)
	if err != nil {
		return false, fmt.Errorf("marshal after state: %w", err)
	}
	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		record.ID,
		record.EventID,
		record.EventType,
		record.EntityType,
		record.EntityID,
		record.Actor,
		record.Timestamp,
		before,
		after,
		metadata,
	)
	if err != nil {
		return false, fmt.Errorf("insert audit record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert audit record: %w", err)
	}
	return affected == 1, nil
}

// FindByEventID returns the record for the given event id.
func (s *Store) FindByEventID(ctx context.Context, eventID string) (audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records WHERE event_id = $1`

	record, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Record{}, fmt.Errorf("audit record %s: %w", eventID, sentinel.ErrNotFound)
		}
		return audit.Record{}, fmt.Errorf("query audit record: %w", err)
	}
	return record, nil
}

// List returns records matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM audit_records`

	var (
		conds []string
		args  []any
	)
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conds = append(conds, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conds = append(conds, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("timestamp <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (audit.Record, error) {
	var (
		record   audit.Record
		before   []byte
		after    []byte
		metadata []byte
	)

	err := row.Scan(
		&record.ID,
		&record.EventID,
		&record.EventType,
		&record.EntityType,
		&record.EntityID,
		&record.Actor,
		&record.Timestamp,
		&before,
		&after,
		&metadata,
	)
	if err != nil {
		return audit.Record{}, err
	}

	if record.Before, err = unmarshalValue(before); err != nil {
		return audit.Record{}, fmt.Errorf("decode before state: %w", err)
	}
	if record.After, err = unmarshalValue(after); err != nil {
		return audit.Record{}, fmt.Errorf("decode after state: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return audit.Record{}, fmt.Errorf("decode metadata: %w", err)
		}
		if len(record.Metadata) == 0 {
			record.Metadata = nil
		}
	}

	return record, nil
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// marshalValue renders a Value for a JSONB column, using SQL NULL for the
// null kind so absence is queryable with IS NULL.
func marshalValue(v event.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalValue(raw []byte) (event.Value, error) {
	if len(raw) == 0 {
		return event.Null(), nil
	}
	return event.DecodeValue(raw)
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}
