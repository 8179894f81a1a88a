// Package tx threads a *sql.Tx through context so a store can join a
// caller's open transaction and fall back to the pool otherwise.
package tx

import (
	"context"
	"database/sql"
)

type key struct{}

// WithTx returns a context carrying tx. A nil tx leaves ctx unchanged.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, key{}, tx)
}

// From reports the transaction carried by ctx, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(key{}).(*sql.Tx)
	return tx, ok
}
