package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

type SubscriptionService struct {
	Store store.Store
	Audit AuditRecorder

	TrialDuration time.Duration
	StoreTimeout  time.Duration
	Now           func() time.Time
}

func (s *SubscriptionService) trialLen() time.Duration {
	if s.TrialDuration <= 0 {
		return domain.DefaultTrialDuration
	}
	return s.TrialDuration
}

// Resolve returns the effective plan. The first read past the trial window
// persists the collapse to free; a failed write is only logged because the
// derived answer is already correct.
func (s *SubscriptionService) Resolve(ctx context.Context, accountID string) (domain.PlanStatus, error) {
	now := clock(s.Now)

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	sub, err := s.Store.Subscriptions().Get(sctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PlanStatus{}, ErrAccountNotFound
		}
		return domain.PlanStatus{}, storeErr(err)
	}

	if sub.TrialExpired(now, s.trialLen()) {
		if err := s.Store.Subscriptions().ExpireTrial(sctx, accountID, now); err != nil {
			slogx.FromContext(ctx).Warn("persist trial expiry failed",
				slog.String("account_id", accountID), slogx.Err(err))
		}
	}
	return sub.Resolve(now, s.trialLen()), nil
}

// Upgrade moves an account to the paid plan. Upgrading a paid account is
// a no-op.
func (s *SubscriptionService) Upgrade(ctx context.Context, actorID, accountID string, meta domain.AuditMeta) (domain.PlanStatus, error) {
	return s.SetPlan(ctx, actorID, accountID, domain.PlanPaid, meta)
}

// SetPlan applies an explicit plan change. Only moves towards paid are
// allowed; nothing ever returns an account to trial.
func (s *SubscriptionService) SetPlan(ctx context.Context, actorID, accountID string, plan domain.Plan, meta domain.AuditMeta) (domain.PlanStatus, error) {
	current, err := s.Resolve(ctx, accountID)
	if err != nil {
		return domain.PlanStatus{}, err
	}
	if current.Plan == plan {
		return current, nil
	}
	if !domain.CanTransition(current.Plan, plan) {
		return domain.PlanStatus{}, ErrInvalidTransition
	}

	now := clock(s.Now)
	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	if err := s.Store.Subscriptions().SetPaid(sctx, accountID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PlanStatus{}, ErrAccountNotFound
		}
		return domain.PlanStatus{}, storeErr(err)
	}

	meta = withExtra(withExtra(withExtra(meta, "target_account_id", accountID), "from", string(current.Plan)), "to", string(plan))
	recorder(s.Audit).Record(ctx, domain.AuditPlanChanged, actorID, domain.OutcomeSuccess, meta)

	return domain.PlanStatus{Plan: plan, TrialEndsAt: current.TrialEndsAt}, nil
}
