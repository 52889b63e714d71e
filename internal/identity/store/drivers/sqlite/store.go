// Package sqlite is the embedded store driver, built on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/anamul94/DietGuard/internal/identity/store/sqlstore"
	_ "modernc.org/sqlite"
)

type Store struct {
	*sqlstore.Store
	dsn string
}

// Dialect is the sqlite flavour of the shared SQL repositories.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isUniqueViolation,
}

// NewStore opens the database at path. ":memory:" gives a private
// in-memory database pinned to a single connection.
func NewStore(path string) (*Store, error) {
	dsn := DSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		Store: sqlstore.New(db, Dialect),
		dsn:   dsn,
	}, nil
}

// DSN builds the connection string. Write transactions take the database
// lock up front so concurrent read-then-write sequences serialise instead
// of failing with SQLITE_BUSY on upgrade.
func DSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
		"_time_format=sqlite",
	}
	if path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: PRIMARY KEY")
}

