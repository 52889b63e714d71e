// Package storetest is a conformance suite every store driver must pass.
package storetest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/idx"
	"github.com/stretchr/testify/require"
)

// Factory returns a freshly migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("account profiles", func(t *testing.T) { testAccountProfiles(t, newStore(t)) })
	t.Run("subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("refresh tokens", func(t *testing.T) { testRefreshTokens(t, newStore(t)) })
	t.Run("reset tokens", func(t *testing.T) { testResetTokens(t, newStore(t)) })
	t.Run("upload counters", func(t *testing.T) { testUploadCounters(t, newStore(t)) })
	t.Run("idempotent uploads", func(t *testing.T) { testIdempotentUploads(t, newStore(t)) })
	t.Run("concurrent uploads", func(t *testing.T) { testConcurrentUploads(t, newStore(t)) })
	t.Run("concurrent rotation", func(t *testing.T) { testConcurrentRotation(t, newStore(t)) })
	t.Run("audit log", func(t *testing.T) { testAuditLog(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
}

var t0 = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

// SeedAccount inserts an account with a trial subscription.
func SeedAccount(t *testing.T, s store.Store, email string) domain.Account {
	t.Helper()
	ctx := context.Background()
	a := domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: "hash",
		Role:         domain.RoleUser,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, s.Accounts().Create(ctx, a))
	require.NoError(t, s.Subscriptions().Create(ctx, domain.Subscription{
		AccountID:  a.ID,
		Plan:       domain.PlanTrial,
		TrialStart: t0,
		UpdatedAt:  t0,
	}))
	return a
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "alice@example.com")

	got, err := s.Accounts().GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, domain.RoleUser, got.Role)
	require.True(t, got.CreatedAt.Equal(t0))
	require.False(t, got.IsDeleted())

	dup := a
	dup.ID = idx.New().String()
	require.ErrorIs(t, s.Accounts().Create(ctx, dup), store.ErrAlreadyExists)

	require.NoError(t, s.Accounts().UpdateRole(ctx, a.ID, domain.RoleAdmin, t0.Add(time.Minute)))
	require.NoError(t, s.Accounts().UpdatePasswordHash(ctx, a.ID, "hash2", t0.Add(time.Minute)))
	got, err = s.Accounts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, got.Role)
	require.Equal(t, "hash2", got.PasswordHash)

	require.NoError(t, s.Accounts().SoftDelete(ctx, a.ID, t0.Add(time.Hour)))
	require.ErrorIs(t, s.Accounts().SoftDelete(ctx, a.ID, t0.Add(time.Hour)), store.ErrNotFound)

	_, err = s.Accounts().GetByEmail(ctx, "alice@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err = s.Accounts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.IsDeleted())

	// Soft-deleted accounts keep their email reserved.
	dup.ID = idx.New().String()
	require.ErrorIs(t, s.Accounts().Create(ctx, dup), store.ErrAlreadyExists)

	require.ErrorIs(t, s.Accounts().UpdateRole(ctx, a.ID, domain.RoleUser, t0), store.ErrNotFound)

	_, err = s.Accounts().GetByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testAccountProfiles(t *testing.T, s store.Store) {
	ctx := context.Background()

	var ids []string
	for i := range 3 {
		at := t0.Add(time.Duration(i) * time.Minute)
		a := domain.Account{
			ID:           idx.NewAt(at).String(),
			Email:        fmt.Sprintf("p%d@example.com", i),
			PasswordHash: "hash",
			Role:         domain.RoleUser,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		require.NoError(t, s.Accounts().Create(ctx, a))
		ids = append(ids, a.ID)
	}

	got, err := s.Accounts().GetByID(ctx, ids[0])
	require.NoError(t, err)
	require.Nil(t, got.Age)
	require.Empty(t, got.Gender)

	age := 34
	require.NoError(t, s.Accounts().UpdateProfile(ctx, ids[0], domain.Profile{
		FirstName: "Ada", LastName: "Byron", Age: &age, Gender: "female",
	}, t0.Add(time.Hour)))
	got, err = s.Accounts().GetByID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, "Ada", got.FirstName)
	require.Equal(t, "Byron", got.LastName)
	require.Equal(t, 34, *got.Age)
	require.Equal(t, "female", got.Gender)
	require.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))

	// Clearing the age stores NULL again.
	require.NoError(t, s.Accounts().UpdateProfile(ctx, ids[0], domain.Profile{FirstName: "Ada"}, t0.Add(2*time.Hour)))
	got, err = s.Accounts().GetByID(ctx, ids[0])
	require.NoError(t, err)
	require.Nil(t, got.Age)
	require.Empty(t, got.LastName)

	require.ErrorIs(t, s.Accounts().UpdateProfile(ctx, "missing", domain.Profile{}, t0), store.ErrNotFound)

	page, err := s.Accounts().List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].ID)
	require.Equal(t, ids[1], page[1].ID)

	page, err = s.Accounts().List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[0], page[0].ID)

	// Deleted accounts drop out of the listing.
	require.NoError(t, s.Accounts().SoftDelete(ctx, ids[2], t0.Add(time.Hour)))
	page, err = s.Accounts().List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[1], page[0].ID)
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "sub@example.com")

	sub, err := s.Subscriptions().Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanTrial, sub.Plan)
	require.True(t, sub.TrialStart.Equal(t0))

	require.NoError(t, s.Subscriptions().ExpireTrial(ctx, a.ID, t0.Add(8*24*time.Hour)))
	sub, err = s.Subscriptions().Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanFree, sub.Plan)

	require.NoError(t, s.Subscriptions().SetPaid(ctx, a.ID, t0.Add(9*24*time.Hour)))
	// Expiring a paid plan is a no-op.
	require.NoError(t, s.Subscriptions().ExpireTrial(ctx, a.ID, t0.Add(10*24*time.Hour)))
	sub, err = s.Subscriptions().Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanPaid, sub.Plan)

	require.ErrorIs(t, s.Subscriptions().SetPaid(ctx, "missing", t0), store.ErrNotFound)

	require.NoError(t, s.Accounts().SoftDelete(ctx, a.ID, t0))
	_, err = s.Subscriptions().Get(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func newRefresh(accountID, hash, parent string, ttl time.Duration) domain.RefreshToken {
	return domain.RefreshToken{
		ID:        idx.New().String(),
		AccountID: accountID,
		TokenHash: hash,
		ParentID:  parent,
		State:     domain.TokenActive,
		CreatedAt: t0,
		ExpiresAt: t0.Add(ttl),
	}
}

func testRefreshTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "rt@example.com")

	first := newRefresh(a.ID, "hash-1", "", time.Hour)
	require.NoError(t, s.RefreshTokens().Create(ctx, first))
	require.ErrorIs(t, s.RefreshTokens().Create(ctx, newRefresh(a.ID, "hash-1", "", time.Hour)), store.ErrAlreadyExists)

	got, err := s.RefreshTokens().GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, domain.TokenActive, got.State)
	require.Empty(t, got.ParentID)
	require.True(t, got.ExpiresAt.Equal(t0.Add(time.Hour)))

	require.NoError(t, s.RefreshTokens().MarkRotated(ctx, first.ID, t0.Add(time.Minute)))
	require.ErrorIs(t, s.RefreshTokens().MarkRotated(ctx, first.ID, t0.Add(time.Minute)), store.ErrConflict)

	child := newRefresh(a.ID, "hash-2", first.ID, time.Hour)
	require.NoError(t, s.RefreshTokens().Create(ctx, child))

	got, err = s.RefreshTokens().GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, domain.TokenRotated, got.State)
	require.NotNil(t, got.RotatedAt)

	got, err = s.RefreshTokens().GetByHash(ctx, "hash-2")
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ParentID)

	n, err := s.RefreshTokens().RevokeAllForAccount(ctx, a.ID, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	got, err = s.RefreshTokens().GetByHash(ctx, "hash-2")
	require.NoError(t, err)
	require.Equal(t, domain.TokenRevoked, got.State)
	require.NotNil(t, got.RevokedAt)

	stale := newRefresh(a.ID, "hash-stale", "", -time.Hour)
	require.NoError(t, s.RefreshTokens().Create(ctx, stale))
	staleRotated := newRefresh(a.ID, "hash-stale-rotated", "", -time.Hour)
	require.NoError(t, s.RefreshTokens().Create(ctx, staleRotated))
	require.NoError(t, s.RefreshTokens().MarkRotated(ctx, staleRotated.ID, t0.Add(-2*time.Hour)))

	n, err = s.RefreshTokens().DeleteExpired(ctx, t0, t0.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.RefreshTokens().GetByHash(ctx, "hash-stale")
	require.ErrorIs(t, err, store.ErrNotFound)

	// An expired rotated token outlives the others so its reuse is still seen.
	got, err = s.RefreshTokens().GetByHash(ctx, "hash-stale-rotated")
	require.NoError(t, err)
	require.Equal(t, domain.TokenRotated, got.State)

	n, err = s.RefreshTokens().DeleteExpired(ctx, t0, t0)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = s.RefreshTokens().GetByHash(ctx, "hash-stale-rotated")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testResetTokens(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "reset@example.com")

	tok := domain.PasswordResetToken{
		ID:        idx.New().String(),
		AccountID: a.ID,
		TokenHash: "reset-1",
		CreatedAt: t0,
		ExpiresAt: t0.Add(time.Hour),
	}
	require.NoError(t, s.ResetTokens().Create(ctx, tok))

	got, err := s.ResetTokens().GetByHash(ctx, "reset-1")
	require.NoError(t, err)
	require.False(t, got.Consumed())

	require.NoError(t, s.ResetTokens().MarkConsumed(ctx, tok.ID, t0.Add(time.Minute)))
	require.ErrorIs(t, s.ResetTokens().MarkConsumed(ctx, tok.ID, t0.Add(time.Minute)), store.ErrConflict)

	other := tok
	other.ID = idx.New().String()
	other.TokenHash = "reset-2"
	require.NoError(t, s.ResetTokens().Create(ctx, other))
	require.NoError(t, s.ResetTokens().InvalidateForAccount(ctx, a.ID, t0.Add(2*time.Minute)))

	got, err = s.ResetTokens().GetByHash(ctx, "reset-2")
	require.NoError(t, err)
	require.True(t, got.Consumed())

	n, err := s.ResetTokens().DeleteExpired(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func testUploadCounters(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "quota@example.com")
	c := s.UploadCounters()

	n, err := c.Get(ctx, a.ID, "2025-03-10")
	require.NoError(t, err)
	require.Zero(t, n)

	n, ok, err := c.TryIncrement(ctx, a.ID, "2025-03-10", 2, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, n)

	n, ok, err = c.TryIncrement(ctx, a.ID, "2025-03-10", 2, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, n)

	_, ok, err = c.TryIncrement(ctx, a.ID, "2025-03-10", 2, t0)
	require.NoError(t, err)
	require.False(t, ok)

	n, err = c.Get(ctx, a.ID, "2025-03-10")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// A new day starts from zero.
	n, ok, err = c.TryIncrement(ctx, a.ID, "2025-03-11", 2, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, n)

	// No ceiling keeps counting.
	for i := 0; i < 5; i++ {
		_, ok, err = c.TryIncrement(ctx, a.ID, "2025-03-11", -1, t0.Add(24*time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
	}
	n, err = c.Get(ctx, a.ID, "2025-03-11")
	require.NoError(t, err)
	require.Equal(t, 6, n)

	_, ok, err = c.TryIncrement(ctx, a.ID, "2025-03-12", 0, t0)
	require.NoError(t, err)
	require.False(t, ok)

	deleted, err := c.DeleteBefore(ctx, "2025-03-11")
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
	n, err = c.Get(ctx, a.ID, "2025-03-10")
	require.NoError(t, err)
	require.Zero(t, n)
}

func testIdempotentUploads(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "idem@example.com")
	c := s.UploadCounters()
	day := "2025-03-10"

	n, ok, replayed, err := c.TryIncrementOnce(ctx, a.ID, day, "key-1", 2, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, replayed)
	require.Equal(t, 1, n)

	n, ok, replayed, err = c.TryIncrementOnce(ctx, a.ID, day, "key-1", 2, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, replayed)
	require.Equal(t, 1, n)

	n, ok, _, err = c.TryIncrementOnce(ctx, a.ID, day, "key-2", 2, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, n)

	_, ok, replayed, err = c.TryIncrementOnce(ctx, a.ID, day, "key-3", 2, t0)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, replayed)

	// The denied key left nothing behind and is still denied on retry.
	_, ok, replayed, err = c.TryIncrementOnce(ctx, a.ID, day, "key-3", 2, t0)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, replayed)

	n, err = c.Get(ctx, a.ID, day)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	tx, err := s.Tx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	_, _, _, err = tx.UploadCounters().TryIncrementOnce(ctx, a.ID, day, "key-4", 2, t0)
	require.ErrorIs(t, err, sql.ErrTxDone)
}

func testConcurrentUploads(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "race@example.com")
	c := s.UploadCounters()

	const workers = 10
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			var (
				ok  bool
				err error
			)
			if i%2 == 0 {
				_, ok, err = c.TryIncrement(ctx, a.ID, "2025-03-10", 2, t0)
			} else {
				_, ok, _, err = c.TryIncrementOnce(ctx, a.ID, "2025-03-10", fmt.Sprintf("k-%d", i), 2, t0)
			}
			if err != nil {
				t.Errorf("increment %d: %v", i, err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(2), allowed.Load())
	n, err := c.Get(ctx, a.ID, "2025-03-10")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func testConcurrentRotation(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "rotate@example.com")
	tok := newRefresh(a.ID, "race-hash", "", time.Hour)
	require.NoError(t, s.RefreshTokens().Create(ctx, tok))

	const workers = 8
	var (
		wg    sync.WaitGroup
		won   atomic.Int32
		lost  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.RefreshTokens().MarkRotated(ctx, tok.ID, t0)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, store.ErrConflict):
				lost.Add(1)
			default:
				t.Errorf("rotate: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), won.Load())
	require.Equal(t, int32(workers-1), lost.Load())
}

func testAuditLog(t *testing.T, s store.Store) {
	ctx := context.Background()
	actor := idx.New().String()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AuditLog().Append(ctx, domain.AuditEntry{
			ID:         idx.NewAt(t0.Add(time.Duration(i) * time.Second)).String(),
			OccurredAt: t0.Add(time.Duration(i) * time.Second),
			Kind:       domain.AuditSignin,
			ActorID:    &actor,
			Outcome:    domain.OutcomeSuccess,
			AuditMeta: domain.AuditMeta{
				IP:        "10.0.0.1",
				UserAgent: "test",
				RequestID: fmt.Sprintf("req-%d", i),
				Extra:     map[string]string{"n": fmt.Sprint(i)},
			},
		}))
	}
	// Anonymous entries are allowed and never reference an account.
	require.NoError(t, s.AuditLog().Append(ctx, domain.AuditEntry{
		ID:         idx.New().String(),
		OccurredAt: t0,
		Kind:       domain.AuditSignin,
		Outcome:    domain.OutcomeFailure,
		AuditMeta:  domain.AuditMeta{Reason: "invalid credentials"},
	}))

	require.NoError(t, s.AuditLog().Append(ctx, domain.AuditEntry{
		ID:         idx.New().String(),
		OccurredAt: t0.Add(time.Minute),
		Kind:       domain.AuditLogout,
		ActorID:    &actor,
		Outcome:    domain.OutcomeSuccess,
	}))

	entries, err := s.AuditLog().List(ctx, domain.AuditFilter{ActorID: actor, Kind: domain.AuditSignin, Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "req-2", entries[0].RequestID)
	require.Equal(t, "2", entries[0].Extra["n"])
	require.Equal(t, actor, *entries[0].ActorID)
	require.True(t, entries[1].OccurredAt.Equal(t0.Add(time.Second)))

	entries, err = s.AuditLog().List(ctx, domain.AuditFilter{ActorID: actor, Kind: domain.AuditSignin, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "req-0", entries[0].RequestID)

	entries, err = s.AuditLog().List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, domain.AuditLogout, entries[0].Kind)

	entries, err = s.AuditLog().List(ctx, domain.AuditFilter{Kind: domain.AuditSignin})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	anonymous := 0
	for _, e := range entries {
		if e.ActorID == nil {
			anonymous++
		}
	}
	require.Equal(t, 1, anonymous)
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		a := domain.Account{ID: idx.New().String(), Email: "tx@example.com", PasswordHash: "h", Role: domain.RoleUser, CreatedAt: t0, UpdatedAt: t0}
		if err := tx.Accounts().Create(ctx, a); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Accounts().GetByEmail(ctx, "tx@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		require.ErrorIs(t, tx.WithTx(ctx, func(store.Tx) error { return nil }), sql.ErrTxDone)
		a := domain.Account{ID: idx.New().String(), Email: "tx@example.com", PasswordHash: "h", Role: domain.RoleUser, CreatedAt: t0, UpdatedAt: t0}
		return tx.Accounts().Create(ctx, a)
	})
	require.NoError(t, err)

	_, err = s.Accounts().GetByEmail(ctx, "tx@example.com")
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
}
