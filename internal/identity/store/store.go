package store

import (
	"context"
	"errors"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when a guarded update matched no row because
	// the row was already moved on by someone else.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement it and expose sub-repositories so transactional
// code can only reach the repos through the Tx it was given.
type Store interface {
	Accounts() Accounts
	Subscriptions() Subscriptions
	RefreshTokens() RefreshTokens
	ResetTokens() ResetTokens
	UploadCounters() UploadCounters
	AuditLog() AuditLog

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store. Nested transactions are not supported.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// Create inserts a new account. Duplicate emails yield ErrAlreadyExists.
	Create(ctx context.Context, a domain.Account) error

	// GetByID returns an account, including soft-deleted ones.
	GetByID(ctx context.Context, id string) (domain.Account, error)

	// GetByEmail returns an active (not deleted) account.
	GetByEmail(ctx context.Context, email string) (domain.Account, error)

	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
	UpdateRole(ctx context.Context, id string, role domain.Role, at time.Time) error

	// UpdateProfile overwrites the editable fields of an active account.
	UpdateProfile(ctx context.Context, id string, p domain.Profile, at time.Time) error

	// List pages through active accounts, newest first.
	List(ctx context.Context, limit, offset int) ([]domain.Account, error)

	// SoftDelete marks the account deleted. ErrNotFound if already deleted.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

type Subscriptions interface {
	Create(ctx context.Context, s domain.Subscription) error

	// Get returns the subscription of an active account.
	Get(ctx context.Context, accountID string) (domain.Subscription, error)

	// ExpireTrial collapses a trial to free. It is a no-op for any other
	// plan, so concurrent readers and upgrades never fight.
	ExpireTrial(ctx context.Context, accountID string, at time.Time) error

	// SetPaid moves the plan to paid.
	SetPaid(ctx context.Context, accountID string, at time.Time) error
}

type RefreshTokens interface {
	Create(ctx context.Context, t domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRotated moves an active token to rotated. ErrConflict when the
	// token was no longer active.
	MarkRotated(ctx context.Context, id string, at time.Time) error

	// Revoke revokes one token unless it is already revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// RevokeAllForAccount revokes every non-revoked token of the account
	// and returns how many changed.
	RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) (int64, error)

	// DeleteExpired removes tokens that expired before before. Rotated
	// tokens are kept until rotatedBefore so a replayed ancestor still
	// trips reuse detection after it expired.
	DeleteExpired(ctx context.Context, before, rotatedBefore time.Time) (int64, error)
}

type ResetTokens interface {
	Create(ctx context.Context, t domain.PasswordResetToken) error
	GetByHash(ctx context.Context, hash string) (domain.PasswordResetToken, error)

	// MarkConsumed redeems the token. ErrConflict when it was already consumed.
	MarkConsumed(ctx context.Context, id string, at time.Time) error

	// InvalidateForAccount consumes every outstanding token of the account.
	InvalidateForAccount(ctx context.Context, accountID string, at time.Time) error

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UploadCounters is the quota ledger. Every increment is a single
// server-side guarded operation.
type UploadCounters interface {
	// TryIncrement adds one upload for (accountID, day) if the counter is
	// below limit, returning the new count. ok is false when the ceiling was
	// already reached. limit <= 0 means no ceiling.
	TryIncrement(ctx context.Context, accountID, day string, limit int, at time.Time) (count int, ok bool, err error)

	// TryIncrementOnce is TryIncrement keyed by a client idempotency key. A
	// key that already counted returns its original count with replayed set
	// and does not count again. Denied attempts record nothing.
	TryIncrementOnce(ctx context.Context, accountID, day, key string, limit int, at time.Time) (count int, ok, replayed bool, err error)

	// Get returns today's count, 0 when no counter exists yet.
	Get(ctx context.Context, accountID, day string) (int, error)

	// DeleteBefore prunes counters of days strictly before day.
	DeleteBefore(ctx context.Context, day string) (int64, error)
}

type AuditLog interface {
	Append(ctx context.Context, e domain.AuditEntry) error

	// List returns matching entries, newest first.
	List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error)
}
