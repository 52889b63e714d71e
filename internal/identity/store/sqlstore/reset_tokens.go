package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
)

type resetTokensRepo struct {
	q queries
}

func (r *resetTokensRepo) Create(ctx context.Context, t domain.PasswordResetToken) error {
	_, err := r.q.exec(ctx, `
INSERT INTO password_reset_tokens (id, account_id, token_hash, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.TokenHash, t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	if r.q.d.uniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *resetTokensRepo) GetByHash(ctx context.Context, hash string) (domain.PasswordResetToken, error) {
	var (
		t        domain.PasswordResetToken
		consumed sql.NullTime
	)
	err := r.q.queryRow(ctx, `
SELECT id, account_id, token_hash, created_at, expires_at, consumed_at
FROM password_reset_tokens WHERE token_hash = ?`, hash).
		Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &consumed)
	if err != nil {
		return domain.PasswordResetToken{}, mapNotFound(err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.ConsumedAt = mapNullTimePtr(consumed)
	return t, nil
}

func (r *resetTokensRepo) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE password_reset_tokens SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		at.UTC(), id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *resetTokensRepo) InvalidateForAccount(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.q.exec(ctx,
		`UPDATE password_reset_tokens SET consumed_at = ? WHERE account_id = ? AND consumed_at IS NULL`,
		at.UTC(), accountID)
	return err
}

func (r *resetTokensRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q.exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
