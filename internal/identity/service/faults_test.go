package service

import (
	"context"
	"errors"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
)

var errStoreDown = errors.New("dial tcp 10.0.0.5:5432: connection refused")

// fault decides how a wrapped store call misbehaves. nil passes through.
type fault func(ctx context.Context) error

func failing(context.Context) error { return errStoreDown }

// hanging waits out the caller's deadline, like a stalled connection.
func hanging(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type faultyCounters struct {
	store.UploadCounters
	fault fault
}

func (c *faultyCounters) TryIncrement(ctx context.Context, accountID, day string, limit int, at time.Time) (int, bool, error) {
	if err := c.fault(ctx); err != nil {
		return 0, false, err
	}
	return c.UploadCounters.TryIncrement(ctx, accountID, day, limit, at)
}

func (c *faultyCounters) TryIncrementOnce(ctx context.Context, accountID, day, key string, limit int, at time.Time) (int, bool, bool, error) {
	if err := c.fault(ctx); err != nil {
		return 0, false, false, err
	}
	return c.UploadCounters.TryIncrementOnce(ctx, accountID, day, key, limit, at)
}

func (c *faultyCounters) Get(ctx context.Context, accountID, day string) (int, error) {
	if err := c.fault(ctx); err != nil {
		return 0, err
	}
	return c.UploadCounters.Get(ctx, accountID, day)
}

type faultyRefreshTokens struct {
	store.RefreshTokens
	getByHash   fault
	markRotated fault
	create      fault
}

func (r *faultyRefreshTokens) GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	if r.getByHash != nil {
		if err := r.getByHash(ctx); err != nil {
			return domain.RefreshToken{}, err
		}
	}
	return r.RefreshTokens.GetByHash(ctx, hash)
}

func (r *faultyRefreshTokens) MarkRotated(ctx context.Context, id string, at time.Time) error {
	if r.markRotated != nil {
		if err := r.markRotated(ctx); err != nil {
			return err
		}
	}
	return r.RefreshTokens.MarkRotated(ctx, id, at)
}

func (r *faultyRefreshTokens) Create(ctx context.Context, t domain.RefreshToken) error {
	if r.create != nil {
		if err := r.create(ctx); err != nil {
			return err
		}
	}
	return r.RefreshTokens.Create(ctx, t)
}

// faultyStore injects refresh token faults both outside and inside
// transactions.
type faultyStore struct {
	store.Store
	refresh faultyRefreshTokens
}

func (s *faultyStore) RefreshTokens() store.RefreshTokens {
	r := s.refresh
	r.RefreshTokens = s.Store.RefreshTokens()
	return &r
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Store: tx, tx: tx, s: s})
	})
}

type faultyTx struct {
	store.Store
	tx store.Tx
	s  *faultyStore
}

func (t *faultyTx) Commit() error   { return t.tx.Commit() }
func (t *faultyTx) Rollback() error { return t.tx.Rollback() }

func (t *faultyTx) RefreshTokens() store.RefreshTokens {
	r := t.s.refresh
	r.RefreshTokens = t.tx.RefreshTokens()
	return &r
}
