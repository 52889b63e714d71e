package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestCreateAccountMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs("id-1", "a@example.com", "hash", "user", "", "", sqlmock.AnyArg(), "", now, now).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

	err := s.Accounts().Create(context.Background(), domain.Account{
		ID: "id-1", Email: "a@example.com", PasswordHash: "hash", Role: domain.RoleUser,
		CreatedAt: now, UpdatedAt: now,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueriesUseNumberedPlaceholders(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE email = $1 AND deleted_at IS NULL")).
		WithArgs("missing@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Accounts().GetByEmail(context.Background(), "missing@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryIncrementGuardedUpsert(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE $4 <= 0 OR upload_counters.count < $5")).
		WithArgs("acct", "2025-03-10", now, 2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO upload_counters")).
		WithArgs("acct", "2025-03-10", now, 2, 2).
		WillReturnError(sql.ErrNoRows)

	n, ok, err := s.UploadCounters().TryIncrement(ctx, "acct", "2025-03-10", 2, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, n)

	_, ok, err = s.UploadCounters().TryIncrement(ctx, "acct", "2025-03-10", 2, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryIncrementOnceReplaysStoredCount(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO upload_attempts")).
		WithArgs("acct", "key", "2025-03-10", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count FROM upload_attempts WHERE account_id = $1 AND idempotency_key = $2")).
		WithArgs("acct", "key").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	n, ok, replayed, err := s.UploadCounters().TryIncrementOnce(context.Background(), "acct", "2025-03-10", "key", 2, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, replayed)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryIncrementOnceDeniedRollsBack(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO upload_attempts")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO upload_counters")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, ok, replayed, err := s.UploadCounters().TryIncrementOnce(context.Background(), "acct", "2025-03-10", "key", 2, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, replayed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRotatedConflict(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET state = 'rotated', rotated_at = $1 WHERE id = $2 AND state = 'active'")).
		WithArgs(now, "rt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RefreshTokens().MarkRotated(context.Background(), "rt-1", now)
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredKeepsRotatedLonger(t *testing.T) {
	s, mock := newMock(t)
	rotatedBefore := now.Add(-7 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("WHERE (state <> 'rotated' AND expires_at < $1) OR (state = 'rotated' AND expires_at < $2)")).
		WithArgs(now, rotatedBefore).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RefreshTokens().DeleteExpired(context.Background(), now, rotatedBefore)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListFilters(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log WHERE actor_id = $1 AND kind = $2")).
		WithArgs("acct", "signin", 20, 40).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "occurred_at", "kind", "actor_id", "outcome", "ip", "user_agent", "reason", "request_id", "metadata",
		}).AddRow("e1", now, "signin", "acct", "failure", "203.0.113.1", "", "bad password", "", `{"attempt":"3"}`))

	entries, err := s.AuditLog().List(context.Background(), domain.AuditFilter{
		ActorID: "acct", Kind: domain.AuditSignin, Limit: 20, Offset: 40,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "3", entries[0].Extra["attempt"])
	require.Equal(t, "acct", *entries[0].ActorID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileMissingAccount(t *testing.T) {
	s, mock := newMock(t)
	age := 31

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET first_name = $1, last_name = $2, age = $3, gender = $4, updated_at = $5")).
		WithArgs("Ann", "Lee", int64(age), "female", now, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Accounts().UpdateProfile(context.Background(), "gone", domain.Profile{
		FirstName: "Ann", LastName: "Lee", Age: &age, Gender: "female",
	}, now)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET role = $1")).
		WithArgs("admin", now, "acct").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := fmt.Errorf("boom")
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		if err := tx.Accounts().UpdateRole(context.Background(), "acct", domain.RoleAdmin, now); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	require.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(sql.ErrNoRows))
}
