package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type uploadCountersRepo struct {
	q queries

	// pool is nil when the repo is scoped to a caller's transaction.
	pool   *sql.DB
	txOpts *sql.TxOptions
}

// The conflict branch only fires while the stored count is below the
// ceiling, so the check and the increment are one statement. A suppressed
// update returns no row.
const incrementQuery = `
INSERT INTO upload_counters (account_id, day, count, updated_at) VALUES (?, ?, 1, ?)
ON CONFLICT (account_id, day) DO UPDATE
SET count = upload_counters.count + 1, updated_at = excluded.updated_at
WHERE ? <= 0 OR upload_counters.count < ?
RETURNING count`

func (r *uploadCountersRepo) TryIncrement(ctx context.Context, accountID, day string, limit int, at time.Time) (int, bool, error) {
	return increment(ctx, r.q, accountID, day, limit, at)
}

func increment(ctx context.Context, q queries, accountID, day string, limit int, at time.Time) (int, bool, error) {
	// A zero ceiling must deny the very first insert too.
	if limit == 0 {
		return 0, false, nil
	}
	var count int
	err := q.queryRow(ctx, incrementQuery, accountID, day, at.UTC(), limit, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return limit, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (r *uploadCountersRepo) TryIncrementOnce(ctx context.Context, accountID, day, key string, limit int, at time.Time) (count int, ok, replayed bool, err error) {
	if r.pool == nil {
		return 0, false, false, sql.ErrTxDone
	}

	tx, err := r.pool.BeginTx(ctx, r.txOpts)
	if err != nil {
		return 0, false, false, err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()
	q := queries{db: tx, d: r.q.d}

	res, err := q.exec(ctx, `
INSERT INTO upload_attempts (account_id, idempotency_key, day, count, created_at)
VALUES (?, ?, ?, 0, ?)
ON CONFLICT (account_id, idempotency_key) DO NOTHING`,
		accountID, key, day, at.UTC())
	if err != nil {
		return 0, false, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, false, err
	}
	if n == 0 {
		if err := q.queryRow(ctx,
			`SELECT count FROM upload_attempts WHERE account_id = ? AND idempotency_key = ?`,
			accountID, key).Scan(&count); err != nil {
			return 0, false, false, mapNotFound(err)
		}
		return count, true, true, tx.Commit()
	}

	count, ok, err = increment(ctx, q, accountID, day, limit, at)
	if err != nil {
		return 0, false, false, err
	}
	if !ok {
		// Rollback drops the attempt row so the key may be retried later.
		return count, false, false, nil
	}

	if _, err := q.exec(ctx,
		`UPDATE upload_attempts SET count = ? WHERE account_id = ? AND idempotency_key = ?`,
		count, accountID, key); err != nil {
		return 0, false, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, false, err
	}
	return count, true, false, nil
}

func (r *uploadCountersRepo) Get(ctx context.Context, accountID, day string) (int, error) {
	var count int
	err := r.q.queryRow(ctx,
		`SELECT count FROM upload_counters WHERE account_id = ? AND day = ?`,
		accountID, day).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (r *uploadCountersRepo) DeleteBefore(ctx context.Context, day string) (int64, error) {
	res, err := r.q.exec(ctx, `DELETE FROM upload_counters WHERE day < ?`, day)
	if err != nil {
		return 0, err
	}
	// Attempts only matter while their day's counter is live.
	if _, err := r.q.exec(ctx, `DELETE FROM upload_attempts WHERE day < ?`, day); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
