package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
)

type refreshTokensRepo struct {
	q queries
}

func (r *refreshTokensRepo) Create(ctx context.Context, t domain.RefreshToken) error {
	state := t.State
	if state == "" {
		state = domain.TokenActive
	}
	_, err := r.q.exec(ctx, `
INSERT INTO refresh_tokens (id, account_id, token_hash, parent_id, state, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.TokenHash, mapStringNull(t.ParentID), string(state), t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	if r.q.d.uniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *refreshTokensRepo) GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t         domain.RefreshToken
		parent    sql.NullString
		state     string
		rotatedAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := r.q.queryRow(ctx, `
SELECT id, account_id, token_hash, parent_id, state, created_at, expires_at, rotated_at, revoked_at
FROM refresh_tokens WHERE token_hash = ?`, hash).
		Scan(&t.ID, &t.AccountID, &t.TokenHash, &parent, &state, &t.CreatedAt, &t.ExpiresAt, &rotatedAt, &revokedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ParentID = mapNullString(parent)
	t.State = domain.TokenState(state)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.RotatedAt = mapNullTimePtr(rotatedAt)
	t.RevokedAt = mapNullTimePtr(revokedAt)
	return t, nil
}

func (r *refreshTokensRepo) MarkRotated(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE refresh_tokens SET state = 'rotated', rotated_at = ? WHERE id = ? AND state = 'active'`,
		at.UTC(), id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *refreshTokensRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.q.exec(ctx,
		`UPDATE refresh_tokens SET state = 'revoked', revoked_at = ? WHERE id = ? AND state <> 'revoked'`,
		at.UTC(), id)
	return err
}

func (r *refreshTokensRepo) RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) (int64, error) {
	res, err := r.q.exec(ctx,
		`UPDATE refresh_tokens SET state = 'revoked', revoked_at = ? WHERE account_id = ? AND state <> 'revoked'`,
		at.UTC(), accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokensRepo) DeleteExpired(ctx context.Context, before, rotatedBefore time.Time) (int64, error) {
	res, err := r.q.exec(ctx, `
DELETE FROM refresh_tokens
WHERE (state <> 'rotated' AND expires_at < ?) OR (state = 'rotated' AND expires_at < ?)`,
		before.UTC(), rotatedBefore.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
