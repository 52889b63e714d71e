package service

import (
	"context"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
)

// AuditQuery filters the audit trail. Kind and ActorID are optional.
type AuditQuery struct {
	ActorID string
	Kind    string
	Page
}

// AuditLogService is the read side of the audit trail, for admins.
type AuditLogService struct {
	Store        store.Store
	StoreTimeout time.Duration
}

// List returns matching entries, newest first.
func (s *AuditLogService) List(ctx context.Context, q AuditQuery) ([]domain.AuditEntry, error) {
	page, err := q.Page.normalize()
	if err != nil {
		return nil, err
	}

	f := domain.AuditFilter{ActorID: q.ActorID, Limit: page.Limit, Offset: page.Offset}
	if q.Kind != "" {
		kind, err := domain.ParseAuditKind(q.Kind)
		if err != nil {
			return nil, ErrInvalidAuditKind
		}
		f.Kind = kind
	}

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	entries, err := s.Store.AuditLog().List(sctx, f)
	if err != nil {
		return nil, storeErr(err)
	}
	return entries, nil
}
