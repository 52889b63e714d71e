package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestValidateAccessToken(t *testing.T) {
	e := newEnv(t)
	a, pair := e.signup(t, "val@example.com")

	claims, err := e.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, a.ID, claims.Subject)
	require.Equal(t, "user", claims.Role)
	require.Equal(t, t0.Add(15*time.Minute), pair.AccessExpiresAt)
	require.Equal(t, t0.Add(7*24*time.Hour), pair.RefreshExpiresAt)

	e.clock.Advance(14 * time.Minute)
	_, err = e.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)

	e.clock.Advance(2 * time.Minute)
	_, err = e.tokens.Validate(pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	_, err = e.tokens.Validate("not-a-jwt")
	require.ErrorIs(t, err, ErrTokenMalformed)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	_, err = e.tokens.Validate(tampered)
	require.ErrorIs(t, err, ErrTokenSignature)
}

func TestRefreshRotates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, pair := e.signup(t, "rot@example.com")

	e.clock.Advance(time.Hour)
	next, err := e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	old, err := e.store.RefreshTokens().GetByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, domain.TokenRotated, old.State)

	child, err := e.store.RefreshTokens().GetByHash(ctx, cryptox.FingerprintToken(next.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, old.ID, child.ParentID)
	require.Equal(t, a.ID, child.AccountID)

	require.Equal(t, 1, e.audit.count(domain.AuditTokenRefreshed, domain.OutcomeSuccess))
}

func TestRefreshReuseRevokesAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, first := e.signup(t, "reuse@example.com")

	// A second, independent session of the same account.
	_, other, err := e.accounts.Signin(ctx, "reuse@example.com", "secret-pw", domain.AuditMeta{})
	require.NoError(t, err)

	second, err := e.tokens.Refresh(ctx, first.RefreshToken, domain.AuditMeta{})
	require.NoError(t, err)

	_, err = e.tokens.Refresh(ctx, first.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshRevoked)
	require.Equal(t, 1, e.audit.count(domain.AuditRefreshReuse, domain.OutcomeDenied))

	// Everything issued before the reuse is dead too.
	_, err = e.tokens.Refresh(ctx, second.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshRevoked)
	_, err = e.tokens.Refresh(ctx, other.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestRefreshFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, pair := e.signup(t, "fail@example.com")

	_, err := e.tokens.Refresh(ctx, "never-issued", domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshNotFound)
	require.Equal(t, KindAuthentication, KindOf(err))

	_, err = e.tokens.Refresh(ctx, "", domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshNotFound)

	e.clock.Advance(7*24*time.Hour + time.Second)
	_, err = e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshExpired)

	_, fresh, err := e.accounts.Signin(ctx, a.Email, "secret-pw", domain.AuditMeta{})
	require.NoError(t, err)
	require.NoError(t, e.tokens.Revoke(ctx, fresh.RefreshToken, domain.AuditMeta{}))
	_, err = e.tokens.Refresh(ctx, fresh.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshRevoked)

	// Logout of an unknown token is quietly accepted.
	require.NoError(t, e.tokens.Revoke(ctx, "unknown", domain.AuditMeta{}))
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, pair := e.signup(t, "race@example.com")

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case KindOf(err) == KindAuthentication:
				revoked++
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, revoked)

	_, err := e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestRefreshAfterAccountDeleted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, pair := e.signup(t, "gone@example.com")

	require.NoError(t, e.accounts.Delete(ctx, a.ID, domain.AuditMeta{}))

	_, err := e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestRoleChangeAppliesOnNextRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, pair := e.signup(t, "promote@example.com")

	require.NoError(t, e.accounts.SetRole(ctx, "", a.ID, domain.RoleAdmin, domain.AuditMeta{}))

	// The live access token keeps the role it was issued with.
	claims, err := e.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user", claims.Role)

	next, err := e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
	require.NoError(t, err)
	claims, err = e.tokens.Validate(next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "admin", claims.Role)
}

func TestRefreshStoreOutageIsTransient(t *testing.T) {
	tests := []struct {
		name  string
		fault faultyRefreshTokens
	}{
		{"lookup error", faultyRefreshTokens{getByHash: failing}},
		{"lookup timeout", faultyRefreshTokens{getByHash: hanging}},
		{"rotation error", faultyRefreshTokens{markRotated: failing}},
		{"rotation timeout", faultyRefreshTokens{markRotated: hanging}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			_, pair := e.signup(t, "outage@example.com")

			e.tokens.Store = &faultyStore{Store: e.store, refresh: tt.fault}
			e.tokens.StoreTimeout = 50 * time.Millisecond

			_, err := e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
			require.ErrorIs(t, err, ErrTransient)
			require.Equal(t, KindTransient, KindOf(err))
			require.Zero(t, e.audit.count(domain.AuditTokenRefreshed, domain.OutcomeFailure))
			require.Zero(t, e.audit.count(domain.AuditRefreshReuse, domain.OutcomeDenied))

			// The token survived the outage and still rotates once.
			e.tokens.Store = e.store
			_, err = e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
			require.NoError(t, err)
		})
	}
}
