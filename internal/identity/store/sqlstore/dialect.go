// Package sqlstore implements the store repositories on database/sql. The
// sqlite and postgres drivers share it and differ only by Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures the few differences between relational backends.
type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2, ...) instead of "?".
	NumberedParams bool

	// IsUniqueViolation recognises a unique constraint failure.
	IsUniqueViolation func(error) bool

	// TxOptions used for every transaction. Nil means driver defaults.
	TxOptions *sql.TxOptions
}

// Rebind rewrites "?" placeholders for the dialect. Queries in this
// package never contain a literal question mark.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) uniqueViolation(err error) bool {
	return err != nil && d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries binds a connection or transaction to a dialect.
type queries struct {
	db DBTX
	d  Dialect
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.d.Rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.d.Rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.d.Rebind(query), args...)
}
