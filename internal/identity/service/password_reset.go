package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/cryptox"
	"github.com/anamul94/DietGuard/pkg/idx"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

// DefaultResetTokenTTL is how long a password reset token stays usable.
const DefaultResetTokenTTL = time.Hour

// ResetNotifier delivers a reset token to the account owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, a domain.Account, token string, expiresAt time.Time) error
}

// LogNotifier writes reset tokens to the log. Development only.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyPasswordReset(ctx context.Context, a domain.Account, token string, expiresAt time.Time) error {
	l := n.Logger
	if l == nil {
		l = slogx.FromContext(ctx)
	}
	l.Debug("password reset token issued",
		slog.String("account_id", a.ID),
		slog.String("token", token),
		slog.Time("expires_at", expiresAt))
	return nil
}

type PasswordResetService struct {
	Store    store.Store
	Notifier ResetNotifier
	Audit    AuditRecorder

	TokenTTL     time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

func (s *PasswordResetService) ttl() time.Duration {
	if s.TokenTTL <= 0 {
		return DefaultResetTokenTTL
	}
	return s.TokenTTL
}

// RequestReset issues a reset token when the email belongs to an active
// account. It reports nothing back, so callers cannot tell which emails have accounts.
// Earlier outstanding tokens of the account are invalidated.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, meta domain.AuditMeta) {
	l := slogx.FromContext(ctx)
	audit := recorder(s.Audit)
	now := clock(s.Now)

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	a, err := s.Store.Accounts().GetByEmail(sctx, domain.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.Error("password reset lookup failed", slogx.Err(err))
		}
		audit.Record(ctx, domain.AuditPasswordResetRequested, "", domain.OutcomeFailure, withReason(meta, "unknown email"))
		return
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		l.Error("generate reset token failed", slogx.Err(err))
		return
	}
	tok := domain.PasswordResetToken{
		ID:        idx.NewAt(now).String(),
		AccountID: a.ID,
		TokenHash: cryptox.FingerprintToken(opaque),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl()),
	}

	err = s.Store.WithTx(sctx, func(tx store.Tx) error {
		if err := tx.ResetTokens().InvalidateForAccount(sctx, a.ID, now); err != nil {
			return err
		}
		return tx.ResetTokens().Create(sctx, tok)
	})
	if err != nil {
		l.Error("store reset token failed", slog.String("account_id", a.ID), slogx.Err(err))
		return
	}

	if s.Notifier != nil {
		if err := s.Notifier.NotifyPasswordReset(ctx, a, opaque, tok.ExpiresAt); err != nil {
			l.Error("deliver reset token failed", slog.String("account_id", a.ID), slogx.Err(err))
		}
	}
	audit.Record(ctx, domain.AuditPasswordResetRequested, a.ID, domain.OutcomeSuccess, meta)
}

// ConsumeReset redeems a reset token, sets the new password and signs the
// account out everywhere. Exactly one concurrent caller can win a token.
func (s *PasswordResetService) ConsumeReset(ctx context.Context, token, newPassword string, meta domain.AuditMeta) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	audit := recorder(s.Audit)
	now := clock(s.Now)

	fail := func(actorID, reason string, err error) error {
		audit.Record(ctx, domain.AuditPasswordResetCompleted, actorID, domain.OutcomeFailure, withReason(meta, reason))
		return err
	}

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	tok, err := s.Store.ResetTokens().GetByHash(sctx, cryptox.FingerprintToken(token))
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail("", "not found", ErrResetNotFound)
		}
		return storeErr(err)
	}
	if tok.Consumed() {
		return fail(tok.AccountID, "already consumed", ErrResetConsumed)
	}
	if tok.Expired(now) {
		return fail(tok.AccountID, "expired", ErrResetExpired)
	}

	// Hash before the transaction so the write lock is held briefly.
	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}

	sctx, cancel = bounded(ctx, s.StoreTimeout)
	defer cancel()
	err = s.Store.WithTx(sctx, func(tx store.Tx) error {
		if err := tx.ResetTokens().MarkConsumed(sctx, tok.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrResetConsumed
			}
			return err
		}
		if err := tx.Accounts().UpdatePasswordHash(sctx, tok.AccountID, hash, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrResetNotFound
			}
			return err
		}
		if _, err := tx.RefreshTokens().RevokeAllForAccount(sctx, tok.AccountID, now); err != nil {
			return err
		}
		return tx.ResetTokens().InvalidateForAccount(sctx, tok.AccountID, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrResetConsumed):
			return fail(tok.AccountID, "already consumed", err)
		case errors.Is(err, ErrResetNotFound):
			return fail(tok.AccountID, "account deleted", err)
		}
		return storeErr(err)
	}

	audit.Record(ctx, domain.AuditPasswordResetCompleted, tok.AccountID, domain.OutcomeSuccess, meta)
	return nil
}
