package domain

import (
	"math"
	"time"
)

// Plan is the stored subscription plan.
type Plan string

const (
	PlanTrial Plan = "trial"
	PlanFree  Plan = "free"
	PlanPaid  Plan = "paid"
)

// DefaultTrialDuration is how long every new account stays in trial.
const DefaultTrialDuration = 7 * 24 * time.Hour

// Subscription is owned one-to-one by an account.
type Subscription struct {
	AccountID  string
	Plan       Plan
	TrialStart time.Time
	UpdatedAt  time.Time
}

// PlanStatus is the resolved, caller-facing view of a subscription.
type PlanStatus struct {
	Plan          Plan
	IsTrial       bool
	DaysRemaining int
	TrialEndsAt   time.Time
}

// TrialExpired reports whether a stored trial has run out at now.
func (s Subscription) TrialExpired(now time.Time, trialLen time.Duration) bool {
	return s.Plan == PlanTrial && now.Sub(s.TrialStart) >= trialLen
}

// Resolve derives the effective plan at now. A trial past its window is
// reported as free even before the collapse has been persisted.
func (s Subscription) Resolve(now time.Time, trialLen time.Duration) PlanStatus {
	st := PlanStatus{
		Plan:        s.Plan,
		TrialEndsAt: s.TrialStart.Add(trialLen),
	}
	if s.Plan != PlanTrial {
		return st
	}
	if s.TrialExpired(now, trialLen) {
		st.Plan = PlanFree
		return st
	}

	st.IsTrial = true
	st.DaysRemaining = TrialDaysRemaining(now.Sub(s.TrialStart), trialLen)
	return st
}

// TrialDaysRemaining is max(0, trialDays - floor(elapsedDays)).
func TrialDaysRemaining(elapsed, trialLen time.Duration) int {
	const day = 24 * time.Hour
	if elapsed < 0 {
		elapsed = 0
	}
	total := int(math.Ceil(float64(trialLen) / float64(day)))
	return max(0, total-int(elapsed/day))
}

// CanTransition reports whether an explicit change from one effective plan
// to another is allowed. The only explicit move is an upgrade to paid.
func CanTransition(from, to Plan) bool {
	return to == PlanPaid && (from == PlanTrial || from == PlanFree)
}
