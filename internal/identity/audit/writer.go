// Package audit persists security events off the request path.
//
// Record never blocks: entries are queued and a single worker appends them
// with exponential backoff. An entry that cannot be stored is never
// dropped silently. It is logged in full at ERROR, handed to the
// Escalator and the writer reports itself degraded until a later write
// succeeds.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/idx"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

const (
	DefaultBuffer          = 1024
	DefaultStoreTimeout    = 3 * time.Second
	DefaultMaxElapsed      = 30 * time.Second
	DefaultInitialInterval = 100 * time.Millisecond
)

var (
	ErrBufferFull = errors.New("audit: buffer full")
	ErrClosed     = errors.New("audit: writer closed")
)

// Escalator receives entries that could not be persisted.
type Escalator interface {
	EscalateAudit(ctx context.Context, e domain.AuditEntry, cause error) error
}

type Options struct {
	Buffer          int
	StoreTimeout    time.Duration
	MaxElapsed      time.Duration
	InitialInterval time.Duration

	Logger    *slog.Logger
	Metrics   *obs.Metrics
	Escalator Escalator
	Now       func() time.Time
}

type Writer struct {
	log  store.AuditLog
	opts Options

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AuditEntry

	degraded atomic.Bool
	abort    context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWriter starts the background worker. Call Close to drain it.
func NewWriter(log store.AuditLog, opts Options) *Writer {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = DefaultMaxElapsed
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	abort, cancel := context.WithCancel(context.Background())
	w := &Writer{
		log:    log,
		opts:   opts,
		queue:  make(chan domain.AuditEntry, opts.Buffer),
		abort:  abort,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Record queues one entry. It returns immediately in every case.
func (w *Writer) Record(ctx context.Context, kind domain.AuditKind, actorID string, outcome domain.AuditOutcome, meta domain.AuditMeta) {
	now := time.Now().UTC()
	if w.opts.Now != nil {
		now = w.opts.Now().UTC()
	}
	if meta.RequestID == "" {
		meta.RequestID = slogx.RequestID(ctx)
	}
	e := domain.AuditEntry{
		ID:         string(idx.NewAt(now)),
		OccurredAt: now,
		Kind:       kind,
		Outcome:    outcome,
		AuditMeta:  meta,
	}
	if actorID != "" {
		e.ActorID = &actorID
	}

	if err := w.enqueue(e); err != nil {
		go w.escalate(e, err)
	}
}

func (w *Writer) enqueue(e domain.AuditEntry) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- e:
		return nil
	default:
		return ErrBufferFull
	}
}

// Degraded reports whether the last persistence attempt failed.
func (w *Writer) Degraded() bool {
	return w.degraded.Load()
}

// Close stops accepting entries and waits for the queue to drain. When ctx
// expires first, pending retries stop and the remaining entries are
// escalated.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	defer w.cancel()
	for e := range w.queue {
		w.write(e)
	}
}

func (w *Writer) write(e domain.AuditEntry) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.InitialInterval
	b.MaxElapsedTime = w.opts.MaxElapsed

	attempt := func() error {
		ctx, cancel := context.WithTimeout(w.abort, w.opts.StoreTimeout)
		defer cancel()
		err := w.log.Append(ctx, e)
		if errors.Is(err, store.ErrAlreadyExists) {
			// An earlier attempt committed but its acknowledgement was lost.
			return nil
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.opts.Logger.Warn("audit append failed, retrying",
			slog.String("audit_id", e.ID),
			slog.Duration("retry_in", next),
			slogx.Err(err))
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(b, w.abort), notify); err != nil {
		w.escalate(e, err)
		return
	}

	w.opts.Metrics.AuditWrite("ok")
	if w.degraded.Swap(false) {
		w.opts.Metrics.SetAuditDegraded(false)
		w.opts.Logger.Info("audit log writes recovered")
	}
}

func (w *Writer) escalate(e domain.AuditEntry, cause error) {
	var actor string
	if e.ActorID != nil {
		actor = *e.ActorID
	}
	attrs := []any{
		slog.String("audit_id", e.ID),
		slog.Time("occurred_at", e.OccurredAt),
		slog.String("kind", string(e.Kind)),
		slog.String("actor_id", actor),
		slog.String("outcome", string(e.Outcome)),
		slog.String("ip", e.IP),
		slog.String("user_agent", e.UserAgent),
		slog.String("reason", e.Reason),
		slog.String("request_id", e.RequestID),
		slog.Any("metadata", e.Extra),
		slogx.Err(cause),
	}
	w.opts.Logger.Error("audit entry not persisted", attrs...)

	w.opts.Metrics.AuditWrite("escalated")
	if !w.degraded.Swap(true) {
		w.opts.Metrics.SetAuditDegraded(true)
	}

	if w.opts.Escalator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.StoreTimeout)
	defer cancel()
	if err := w.opts.Escalator.EscalateAudit(ctx, e, cause); err != nil {
		w.opts.Logger.Error("audit escalation failed", slog.String("audit_id", e.ID), slogx.Err(err))
	}
}
