// Package postgres is the networked store driver, using pgx through
// database/sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/store/sqlstore"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolationCode = "23505"

type Store struct {
	*sqlstore.Store
}

// Dialect is the postgres flavour of the shared SQL repositories.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	NumberedParams:    true,
	IsUniqueViolation: isUniqueViolation,
}

// PoolOptions tunes the connection pool. Zero values keep driver defaults.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore connects to dsn and verifies the connection.
func NewStore(ctx context.Context, dsn string, opts PoolOptions) (*Store, error) {
	const op = "postgres.NewStore"

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(db), nil
}

// New wraps an already open pool.
func New(db *sql.DB) *Store {
	return &Store{Store: sqlstore.New(db, Dialect)}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
