package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/stretchr/testify/require"
)

func TestPasswordResetFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, pair := e.signup(t, "reset@example.com")

	e.reset.RequestReset(ctx, "Reset@Example.com", domain.AuditMeta{})
	token := e.notifier.token(a.ID)
	require.NotEmpty(t, token)

	require.ErrorIs(t, e.reset.ConsumeReset(ctx, token, "123", domain.AuditMeta{}), ErrWeakPassword)

	require.NoError(t, e.reset.ConsumeReset(ctx, token, "brand-new-pw", domain.AuditMeta{}))
	require.ErrorIs(t, e.reset.ConsumeReset(ctx, token, "brand-new-pw", domain.AuditMeta{}), ErrResetConsumed)

	_, _, err := e.accounts.Signin(ctx, a.Email, "secret-pw", domain.AuditMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = e.accounts.Signin(ctx, a.Email, "brand-new-pw", domain.AuditMeta{})
	require.NoError(t, err)

	// Every earlier session was signed out.
	_, err = e.tokens.Refresh(ctx, pair.RefreshToken, domain.AuditMeta{})
	require.ErrorIs(t, err, ErrRefreshRevoked)

	require.Equal(t, 1, e.audit.count(domain.AuditPasswordResetCompleted, domain.OutcomeSuccess))
}

func TestPasswordResetUnknownEmailLooksTheSame(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.reset.RequestReset(ctx, "ghost@example.com", domain.AuditMeta{})
	require.Empty(t, e.notifier.tokens)

	err := e.reset.ConsumeReset(ctx, "fabricated-token", "brand-new-pw", domain.AuditMeta{})
	require.ErrorIs(t, err, ErrResetNotFound)
	require.Equal(t, KindAuthentication, KindOf(err))
}

func TestPasswordResetExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.signup(t, "late@example.com")

	e.reset.RequestReset(ctx, a.Email, domain.AuditMeta{})
	token := e.notifier.token(a.ID)

	e.clock.Advance(time.Hour)
	require.ErrorIs(t, e.reset.ConsumeReset(ctx, token, "brand-new-pw", domain.AuditMeta{}), ErrResetExpired)
}

func TestNewResetRequestInvalidatesOlderTokens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.signup(t, "twice@example.com")

	e.reset.RequestReset(ctx, a.Email, domain.AuditMeta{})
	first := e.notifier.token(a.ID)
	e.reset.RequestReset(ctx, a.Email, domain.AuditMeta{})
	second := e.notifier.token(a.ID)
	require.NotEqual(t, first, second)

	require.ErrorIs(t, e.reset.ConsumeReset(ctx, first, "brand-new-pw", domain.AuditMeta{}), ErrResetConsumed)
	require.NoError(t, e.reset.ConsumeReset(ctx, second, "brand-new-pw", domain.AuditMeta{}))
}

func TestConcurrentResetHasOneWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, _ := e.signup(t, "resetrace@example.com")
	e.reset.RequestReset(ctx, a.Email, domain.AuditMeta{})
	token := e.notifier.token(a.ID)

	const workers = 4
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		consumed int
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := e.reset.ConsumeReset(ctx, token, "brand-new-pw", domain.AuditMeta{})
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrResetConsumed:
				consumed++
			default:
				t.Errorf("unexpected reset error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, consumed)
}
