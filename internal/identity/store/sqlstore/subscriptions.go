package sqlstore

import (
	"context"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
)

type subscriptionsRepo struct {
	q queries
}

func (r *subscriptionsRepo) Create(ctx context.Context, s domain.Subscription) error {
	_, err := r.q.exec(ctx,
		`INSERT INTO subscriptions (account_id, plan, trial_start, updated_at) VALUES (?, ?, ?, ?)`,
		s.AccountID, string(s.Plan), s.TrialStart.UTC(), s.UpdatedAt.UTC())
	if r.q.d.uniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *subscriptionsRepo) Get(ctx context.Context, accountID string) (domain.Subscription, error) {
	var (
		s    domain.Subscription
		plan string
	)
	err := r.q.queryRow(ctx, `
SELECT s.account_id, s.plan, s.trial_start, s.updated_at
FROM subscriptions s
JOIN accounts a ON a.id = s.account_id
WHERE s.account_id = ? AND a.deleted_at IS NULL`, accountID).
		Scan(&s.AccountID, &plan, &s.TrialStart, &s.UpdatedAt)
	if err != nil {
		return domain.Subscription{}, mapNotFound(err)
	}
	s.Plan = domain.Plan(plan)
	s.TrialStart = s.TrialStart.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (r *subscriptionsRepo) ExpireTrial(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.q.exec(ctx,
		`UPDATE subscriptions SET plan = 'free', updated_at = ? WHERE account_id = ? AND plan = 'trial'`,
		at.UTC(), accountID)
	return err
}

func (r *subscriptionsRepo) SetPaid(ctx context.Context, accountID string, at time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE subscriptions SET plan = 'paid', updated_at = ? WHERE account_id = ?`,
		at.UTC(), accountID)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}
