// Package service implements the identity, subscription and quota rules on
// top of the store. Services are plain structs wired by the app package.
package service

import (
	"context"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
)

// DefaultStoreTimeout bounds every store call made by a service.
const DefaultStoreTimeout = 3 * time.Second

// Paging bounds for admin listings.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page selects a window of a listing. A zero Limit means DefaultPageLimit.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() (Page, error) {
	if p.Limit < 0 || p.Limit > MaxPageLimit || p.Offset < 0 {
		return Page{}, ErrInvalidPage
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	return p, nil
}

// AuditRecorder accepts audit entries without blocking the caller.
type AuditRecorder interface {
	Record(ctx context.Context, kind domain.AuditKind, actorID string, outcome domain.AuditOutcome, meta domain.AuditMeta)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, domain.AuditKind, string, domain.AuditOutcome, domain.AuditMeta) {
}

func recorder(r AuditRecorder) AuditRecorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

// bounded returns a context limited to the store timeout.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

// withReason copies meta with the failure reason set.
func withReason(meta domain.AuditMeta, reason string) domain.AuditMeta {
	meta.Reason = reason
	return meta
}

// withExtra copies meta adding one metadata pair.
func withExtra(meta domain.AuditMeta, key, value string) domain.AuditMeta {
	extra := make(map[string]string, len(meta.Extra)+1)
	for k, v := range meta.Extra {
		extra[k] = v
	}
	extra[key] = value
	meta.Extra = extra
	return meta
}
