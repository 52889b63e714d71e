package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/store"
)

type Store struct {
	db *sql.DB
	d  Dialect
}

// New wraps an open database. The caller keeps ownership of migrations.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

// DB exposes the underlying pool, for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, s.d.TxOptions)
	if err != nil {
		return nil, err
	}
	return &txStore{tx: tx, q: queries{db: tx, d: s.d}}, nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) q() queries { return queries{db: s.db, d: s.d} }

func (s *Store) Accounts() store.Accounts           { return &accountsRepo{q: s.q()} }
func (s *Store) Subscriptions() store.Subscriptions { return &subscriptionsRepo{q: s.q()} }
func (s *Store) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{q: s.q()} }
func (s *Store) ResetTokens() store.ResetTokens     { return &resetTokensRepo{q: s.q()} }
func (s *Store) AuditLog() store.AuditLog           { return &auditLogRepo{q: s.q()} }
func (s *Store) UploadCounters() store.UploadCounters {
	return &uploadCountersRepo{q: s.q(), pool: s.db, txOpts: s.d.TxOptions}
}

type txStore struct {
	tx *sql.Tx
	q  queries
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the outer store owns the pool.
func (t *txStore) Close() error { return nil }

// Ping is a no-op for transactions, the connection is already held.
func (t *txStore) Ping(context.Context) error { return nil }

func (t *txStore) Tx(context.Context) (store.Tx, error) {
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(context.Context, func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Accounts() store.Accounts             { return &accountsRepo{q: t.q} }
func (t *txStore) Subscriptions() store.Subscriptions   { return &subscriptionsRepo{q: t.q} }
func (t *txStore) RefreshTokens() store.RefreshTokens   { return &refreshTokensRepo{q: t.q} }
func (t *txStore) ResetTokens() store.ResetTokens       { return &resetTokensRepo{q: t.q} }
func (t *txStore) AuditLog() store.AuditLog             { return &auditLogRepo{q: t.q} }
func (t *txStore) UploadCounters() store.UploadCounters { return &uploadCountersRepo{q: t.q} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// requireOne turns "no rows affected" into errIfNone.
func requireOne(res sql.Result, errIfNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errIfNone
	}
	return nil
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		v := nt.Time.UTC()
		return &v
	}
	return nil
}

func mapOptionalString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func mapNullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}

func mapIntNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
