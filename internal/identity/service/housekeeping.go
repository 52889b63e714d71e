package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/jwtx"
)

// DefaultCounterRetention keeps upload counters around for a month.
const DefaultCounterRetention = 30 * 24 * time.Hour

// HousekeepingService periodically prunes expired refresh and reset
// tokens and old upload counters. Audit entries are never pruned.
type HousekeepingService struct {
	Store    store.Store
	Counters store.UploadCounters
	Logger   *slog.Logger
	Metrics  *obs.Metrics
	Interval time.Duration

	CounterRetention time.Duration
	// RotatedRetention keeps expired rotated refresh tokens this much
	// longer, so replaying one still revokes the account. Set it to the
	// refresh token TTL.
	RotatedRetention time.Duration
	Now              func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour. Counters default to
// the store's own ledger.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:            st,
		Counters:         st.UploadCounters(),
		Logger:           logger,
		Interval:         interval,
		CounterRetention: DefaultCounterRetention,
		RotatedRetention: jwtx.DefaultRefreshTokenTTL,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop() to shut it down.
// Starting twice, or after Stop, does nothing.
func (s *HousekeepingService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished. It returns at
// once when the worker was never started, and is safe to call twice.
func (s *HousekeepingService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.stopCh)
	if started {
		<-s.doneCh
	}
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one cleanup pass. Each deletion is independent, a
// failure in one does not stop the others. It returns the rows removed.
func (s *HousekeepingService) RunOnce(ctx context.Context) int64 {
	now := clock(s.Now)
	retention := s.CounterRetention
	if retention <= 0 {
		retention = DefaultCounterRetention
	}
	rotatedRetention := max(s.RotatedRetention, 0)

	steps := []struct {
		table string
		fn    func(context.Context) (int64, error)
	}{
		{"refresh_tokens", func(ctx context.Context) (int64, error) {
			return s.Store.RefreshTokens().DeleteExpired(ctx, now, now.Add(-rotatedRetention))
		}},
		{"password_reset_tokens", func(ctx context.Context) (int64, error) {
			return s.Store.ResetTokens().DeleteExpired(ctx, now)
		}},
		{"upload_counters", func(ctx context.Context) (int64, error) {
			return s.Counters.DeleteBefore(ctx, domain.UTCDay(now.Add(-retention)))
		}},
	}

	var total int64
	for _, step := range steps {
		sctx, cancel := bounded(ctx, DefaultStoreTimeout)
		n, err := step.fn(sctx)
		cancel()
		if err != nil {
			s.Logger.Error("housekeeping step failed", "table", step.table, "error", err)
			continue
		}
		s.Metrics.HousekeepingDeleted(step.table, n)
		total += n
	}

	s.Logger.Info("housekeeping cleanup completed", "deleted", total)
	return total
}
