package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/slogx"
	"github.com/google/uuid"
)

// Decision is the outcome of one upload attempt.
type Decision struct {
	Allowed   bool
	Remaining int // domain.Unlimited for plans without a ceiling
	Limit     int // domain.Unlimited for plans without a ceiling
	Replayed  bool
}

// Usage is the read-only projection of plan and quota state.
type Usage struct {
	Plan             domain.Plan
	IsTrial          bool
	DaysRemaining    int
	TrialEndsAt      time.Time
	UploadsToday     int
	RemainingUploads int
	DailyLimit       int
}

type QuotaService struct {
	Subscriptions *SubscriptionService
	Counters      store.UploadCounters
	Audit         AuditRecorder
	Metrics       *obs.Metrics

	// Limit is the free plan's daily ceiling.
	Limit        int
	StoreTimeout time.Duration
	Now          func() time.Time
}

func (s *QuotaService) limit() int {
	if s.Limit <= 0 {
		return domain.DefaultFreeDailyUploads
	}
	return s.Limit
}

// ParseIdempotencyKey validates a client supplied key. Empty is allowed.
func ParseIdempotencyKey(key string) (string, error) {
	if key == "" {
		return "", nil
	}
	id, err := uuid.Parse(key)
	if err != nil {
		return "", ErrInvalidIdempotencyKey
	}
	return id.String(), nil
}

// TryConsume counts one upload for the UTC day. Free accounts are held to
// the daily ceiling by a single guarded increment in the counter store;
// other plans are always allowed but still counted. A non-empty key makes
// retries of the same attempt count once.
func (s *QuotaService) TryConsume(ctx context.Context, accountID, key string, meta domain.AuditMeta) (Decision, error) {
	key, err := ParseIdempotencyKey(key)
	if err != nil {
		return Decision{}, err
	}

	status, err := s.Subscriptions.Resolve(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}

	now := clock(s.Now)
	day := domain.UTCDay(now)

	if status.Plan != domain.PlanFree {
		replayed, err := s.increment(ctx, accountID, day, key, domain.Unlimited, now)
		if err != nil {
			// Counting is informational for unlimited plans.
			slogx.FromContext(ctx).Warn("count unlimited upload failed",
				slog.String("account_id", accountID), slogx.Err(err))
		}
		s.Metrics.QuotaDecision(string(status.Plan), "allowed")
		return Decision{Allowed: true, Remaining: domain.Unlimited, Limit: domain.Unlimited, Replayed: replayed}, nil
	}

	limit := s.limit()
	count, ok, replayed, err := s.incrementGuarded(ctx, accountID, day, key, limit, now)
	if err != nil {
		s.Metrics.QuotaDecision(string(status.Plan), "unavailable")
		return Decision{}, err
	}
	if !ok {
		s.Metrics.QuotaDecision(string(status.Plan), "denied")
		meta = withExtra(withExtra(meta, "day", day), "limit", strconv.Itoa(limit))
		recorder(s.Audit).Record(ctx, domain.AuditQuotaDenied, accountID, domain.OutcomeDenied, withReason(meta, "daily upload limit reached"))
		return Decision{Allowed: false, Remaining: 0, Limit: limit}, &QuotaExceededError{Limit: limit, Used: max(count, limit)}
	}

	s.Metrics.QuotaDecision(string(status.Plan), "allowed")
	return Decision{Allowed: true, Remaining: max(0, limit-count), Limit: limit, Replayed: replayed}, nil
}

func (s *QuotaService) increment(ctx context.Context, accountID, day, key string, limit int, now time.Time) (bool, error) {
	_, _, replayed, err := s.incrementGuarded(ctx, accountID, day, key, limit, now)
	return replayed, err
}

func (s *QuotaService) incrementGuarded(ctx context.Context, accountID, day, key string, limit int, now time.Time) (count int, ok, replayed bool, err error) {
	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	if key == "" {
		count, ok, err = s.Counters.TryIncrement(sctx, accountID, day, limit, now)
	} else {
		count, ok, replayed, err = s.Counters.TryIncrementOnce(sctx, accountID, day, key, limit, now)
	}
	if err != nil {
		return 0, false, false, transient(err)
	}
	return count, ok, replayed, nil
}

// Usage combines the resolved plan with today's counter.
func (s *QuotaService) Usage(ctx context.Context, accountID string) (Usage, error) {
	status, err := s.Subscriptions.Resolve(ctx, accountID)
	if err != nil {
		return Usage{}, err
	}

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	count, err := s.Counters.Get(sctx, accountID, domain.UTCDay(clock(s.Now)))
	if err != nil {
		return Usage{}, transient(err)
	}

	u := Usage{
		Plan:             status.Plan,
		IsTrial:          status.IsTrial,
		DaysRemaining:    status.DaysRemaining,
		TrialEndsAt:      status.TrialEndsAt,
		UploadsToday:     count,
		RemainingUploads: domain.Unlimited,
		DailyLimit:       domain.Unlimited,
	}
	if status.Plan == domain.PlanFree {
		u.DailyLimit = s.limit()
		u.RemainingUploads = max(0, u.DailyLimit-count)
	}
	return u, nil
}
