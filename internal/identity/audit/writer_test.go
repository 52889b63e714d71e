package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/internal/identity/store/drivers/sqlite"
	"github.com/anamul94/DietGuard/internal/identity/store/storetest"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

var errDown = errors.New("database is down")

// flakyLog fails the first `failures` appends, or every append while down.
type flakyLog struct {
	mu       sync.Mutex
	failures int
	down     bool
	block    chan struct{}
	entries  []domain.AuditEntry
}

func (f *flakyLog) Append(ctx context.Context, e domain.AuditEntry) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	if f.failures > 0 {
		f.failures--
		return errDown
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *flakyLog) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *flakyLog) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyLog) stored() []domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.entries...)
}

type captureEscalator struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	causes  []error
}

func (c *captureEscalator) EscalateAudit(_ context.Context, e domain.AuditEntry, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	c.causes = append(c.causes, cause)
	return nil
}

func (c *captureEscalator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions(m *obs.Metrics, esc Escalator) Options {
	return Options{
		Buffer:          16,
		StoreTimeout:    time.Second,
		MaxElapsed:      50 * time.Millisecond,
		InitialInterval: time.Millisecond,
		Logger:          quietLogger(),
		Metrics:         m,
		Escalator:       esc,
	}
}

func TestWriter_PersistsToStore(t *testing.T) {
	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	a := storetest.SeedAccount(t, s, "ann@example.com")
	w := NewWriter(s.AuditLog(), fastOptions(nil, nil))

	ctx := slogx.WithRequestID(context.Background(), "req-42")
	w.Record(ctx, domain.AuditSignin, a.ID, domain.OutcomeSuccess, domain.AuditMeta{IP: "10.0.0.1"})
	w.Record(ctx, domain.AuditSignin, "", domain.OutcomeFailure, domain.AuditMeta{Reason: "unknown email"})
	require.NoError(t, w.Close(context.Background()))

	got, err := s.AuditLog().List(context.Background(), domain.AuditFilter{ActorID: a.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, domain.AuditSignin, got[0].Kind)
	require.Equal(t, "10.0.0.1", got[0].IP)
	require.Equal(t, "req-42", got[0].RequestID)
	require.False(t, w.Degraded())
}

func TestWriter_RetriesTransientFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	log := &flakyLog{failures: 2}
	esc := &captureEscalator{}
	w := NewWriter(log, Options{
		StoreTimeout:    time.Second,
		MaxElapsed:      5 * time.Second,
		InitialInterval: time.Millisecond,
		Logger:          quietLogger(),
		Metrics:         m,
		Escalator:       esc,
	})

	w.Record(context.Background(), domain.AuditLogout, "acct-1", domain.OutcomeSuccess, domain.AuditMeta{})
	require.NoError(t, w.Close(context.Background()))

	require.Len(t, log.stored(), 1)
	require.Zero(t, esc.count())
	require.False(t, w.Degraded())
	require.Equal(t, 1.0, auditWrites(t, reg, "ok"))
}

func TestWriter_EscalatesPersistentFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	log := &flakyLog{down: true}
	esc := &captureEscalator{}
	w := NewWriter(log, fastOptions(m, esc))

	meta := domain.AuditMeta{IP: "10.0.0.2", Reason: "bad password"}
	w.Record(context.Background(), domain.AuditSignin, "acct-2", domain.OutcomeFailure, meta)

	require.Eventually(t, func() bool { return esc.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, w.Degraded())
	require.Equal(t, 1.0, auditWrites(t, reg, "escalated"))
	require.Equal(t, 1.0, gaugeValue(t, reg, "identity_audit_degraded"))

	esc.mu.Lock()
	e := esc.entries[0]
	cause := esc.causes[0]
	esc.mu.Unlock()
	require.Equal(t, "acct-2", *e.ActorID)
	require.Equal(t, "bad password", e.Reason)
	require.ErrorIs(t, cause, errDown)

	// A later successful write clears the degraded state.
	log.setDown(false)
	w.Record(context.Background(), domain.AuditSignin, "acct-2", domain.OutcomeSuccess, domain.AuditMeta{})
	require.NoError(t, w.Close(context.Background()))
	require.False(t, w.Degraded())
	require.Len(t, log.stored(), 1)
	require.Equal(t, 0.0, gaugeValue(t, reg, "identity_audit_degraded"))
}

func TestWriter_FullBufferEscalates(t *testing.T) {
	block := make(chan struct{})
	log := &flakyLog{block: block}
	esc := &captureEscalator{}
	opts := fastOptions(nil, esc)
	opts.Buffer = 1
	opts.MaxElapsed = 5 * time.Second
	w := NewWriter(log, opts)

	// One entry is held by the worker, one fills the buffer, the rest overflow.
	for i := 0; i < 5; i++ {
		w.Record(context.Background(), domain.AuditQuotaDenied, "acct-3", domain.OutcomeDenied, domain.AuditMeta{})
	}

	require.Eventually(t, func() bool { return esc.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, w.Degraded())

	close(block)
	require.NoError(t, w.Close(context.Background()))
	require.Eventually(t, func() bool { return len(log.stored())+esc.count() == 5 }, 2*time.Second, 5*time.Millisecond)

	esc.mu.Lock()
	defer esc.mu.Unlock()
	for _, c := range esc.causes {
		require.ErrorIs(t, c, ErrBufferFull)
	}
}

func TestWriter_RecordAfterClose(t *testing.T) {
	esc := &captureEscalator{}
	w := NewWriter(&flakyLog{}, fastOptions(nil, esc))
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	w.Record(context.Background(), domain.AuditLogout, "acct-4", domain.OutcomeSuccess, domain.AuditMeta{})
	require.Eventually(t, func() bool { return esc.count() == 1 }, time.Second, 5*time.Millisecond)

	esc.mu.Lock()
	defer esc.mu.Unlock()
	require.ErrorIs(t, esc.causes[0], ErrClosed)
}

func TestWriter_CloseDeadlineEscalatesPending(t *testing.T) {
	log := &flakyLog{down: true}
	esc := &captureEscalator{}
	opts := fastOptions(nil, esc)
	opts.MaxElapsed = time.Minute
	w := NewWriter(log, opts)

	for i := 0; i < 3; i++ {
		w.Record(context.Background(), domain.AuditSignup, "", domain.OutcomeFailure, domain.AuditMeta{})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Close(ctx), context.DeadlineExceeded)
	require.Equal(t, 3, esc.count())
	require.Empty(t, log.stored())
}

func TestWriter_DuplicateAppendCountsAsWritten(t *testing.T) {
	w := NewWriter(dupLog{}, fastOptions(nil, nil))
	w.Record(context.Background(), domain.AuditLogout, "acct-5", domain.OutcomeSuccess, domain.AuditMeta{})
	require.NoError(t, w.Close(context.Background()))
	require.False(t, w.Degraded())
}

type dupLog struct{}

func (dupLog) Append(context.Context, domain.AuditEntry) error { return store.ErrAlreadyExists }
func (dupLog) List(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()
		}
	}
	return nil
}

func auditWrites(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	for _, m := range findMetric(t, reg, "identity_audit_writes_total") {
		for _, l := range m.GetLabel() {
			if l.GetName() == "result" && l.GetValue() == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	for _, m := range findMetric(t, reg, name) {
		return m.GetGauge().GetValue()
	}
	return 0
}
