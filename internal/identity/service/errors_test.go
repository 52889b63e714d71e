package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Kind
	}{
		{ErrWeakPassword, KindValidation},
		{fmt.Errorf("signup: %w", ErrEmailTaken), KindValidation},
		{ErrRefreshRevoked, KindAuthentication},
		{ErrResetConsumed, KindAuthentication},
		{ErrForbidden, KindAuthorization},
		{&QuotaExceededError{Limit: 2, Used: 2}, KindQuotaExceeded},
		{transient(context.DeadlineExceeded), KindTransient},
		{errors.New("boom"), KindInternal},
		{nil, KindInternal},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestStoreErr(t *testing.T) {
	t.Parallel()

	require.NoError(t, storeErr(nil))
	require.ErrorIs(t, storeErr(store.ErrNotFound), store.ErrNotFound)
	require.Equal(t, KindAuthentication, KindOf(storeErr(ErrRefreshRevoked)))

	err := storeErr(context.DeadlineExceeded)
	require.ErrorIs(t, err, ErrTransient)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Wrapping is idempotent.
	require.Equal(t, err, transient(err))
}

func TestQuotaExceededError(t *testing.T) {
	t.Parallel()

	err := error(&QuotaExceededError{Limit: 2, Used: 3})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Zero(t, err.(*QuotaExceededError).Remaining())
	require.Contains(t, err.Error(), "3 of 2")
}
