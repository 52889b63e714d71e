package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/obs"
	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/cryptox"
	"github.com/anamul94/DietGuard/pkg/idx"
	"github.com/anamul94/DietGuard/pkg/jwtx"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

type TokenService struct {
	Signer   jwtx.Signer
	Verifier jwtx.Verifier
	Store    store.Store
	Audit    AuditRecorder
	Metrics  *obs.Metrics

	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return jwtx.DefaultRefreshTokenTTL
	}
	return s.RefreshTTL
}

// Issue mints a fresh access token and starts a new refresh chain.
func (s *TokenService) Issue(ctx context.Context, a domain.Account, meta domain.AuditMeta) (domain.TokenPair, error) {
	now := clock(s.Now)

	pair, rt, err := s.mint(a, "", now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()
	if err := s.Store.RefreshTokens().Create(sctx, rt); err != nil {
		return domain.TokenPair{}, storeErr(err)
	}

	recorder(s.Audit).Record(ctx, domain.AuditTokenIssued, a.ID, domain.OutcomeSuccess, meta)
	return pair, nil
}

// mint signs the access token and builds the refresh record. Nothing is
// persisted.
func (s *TokenService) mint(a domain.Account, parentID string, now time.Time) (domain.TokenPair, domain.RefreshToken, error) {
	claims := jwtx.NewAccessClaims(a.ID, string(a.Role), s.Issuer, s.accessTTL(), now)
	access, err := s.Signer.Sign(claims)
	if err != nil {
		return domain.TokenPair{}, domain.RefreshToken{}, err
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, domain.RefreshToken{}, err
	}

	rt := domain.RefreshToken{
		ID:        idx.NewAt(now).String(),
		AccountID: a.ID,
		TokenHash: cryptox.FingerprintToken(opaque),
		ParentID:  parentID,
		State:     domain.TokenActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL()),
	}
	pair := domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     opaque,
		AccessExpiresAt:  claims.Expiry(),
		RefreshExpiresAt: rt.ExpiresAt,
	}
	return pair, rt, nil
}

// Validate verifies an access token locally. It never touches the store.
func (s *TokenService) Validate(token string) (jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		return jwtx.Claims{}, mapVerifyErr(err)
	}
	return claims, nil
}

func mapVerifyErr(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwtx.ErrInvalidSig), errors.Is(err, jwtx.ErrAlgMismatch):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}

// Refresh rotates a refresh token. The presented token is retired and a
// child token is issued in the same transaction. Presenting a token that
// was already rotated is treated as theft and revokes the whole account.
func (s *TokenService) Refresh(ctx context.Context, refreshOpaque string, meta domain.AuditMeta) (domain.TokenPair, error) {
	now := clock(s.Now)
	l := slogx.FromContext(ctx)
	audit := recorder(s.Audit)

	fail := func(actorID, reason string, err error) (domain.TokenPair, error) {
		s.Metrics.RefreshOutcome(reason)
		if KindOf(err) != KindTransient {
			audit.Record(ctx, domain.AuditTokenRefreshed, actorID, domain.OutcomeFailure, withReason(meta, reason))
		}
		return domain.TokenPair{}, err
	}

	if refreshOpaque == "" {
		return fail("", "not_found", ErrRefreshNotFound)
	}

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	rt, err := s.Store.RefreshTokens().GetByHash(sctx, cryptox.FingerprintToken(refreshOpaque))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail("", "not_found", ErrRefreshNotFound)
		}
		return fail("", "unavailable", storeErr(err))
	}

	switch rt.State {
	case domain.TokenRevoked:
		return fail(rt.AccountID, "revoked", ErrRefreshRevoked)
	case domain.TokenRotated:
		n, err := s.Store.RefreshTokens().RevokeAllForAccount(sctx, rt.AccountID, now)
		if err != nil {
			// Fail closed: the token is still refused.
			l.Error("revoke after refresh reuse failed", slog.String("account_id", rt.AccountID), slogx.Err(err))
		}
		l.Warn("refresh token reuse detected",
			slog.String("account_id", rt.AccountID),
			slog.String("token_id", rt.ID),
			slog.Int64("revoked", n))
		audit.Record(ctx, domain.AuditRefreshReuse, rt.AccountID, domain.OutcomeDenied, withReason(meta, "rotated token presented"))
		s.Metrics.RefreshOutcome("reuse")
		return domain.TokenPair{}, ErrRefreshRevoked
	}

	if rt.Expired(now) {
		return fail(rt.AccountID, "expired", ErrRefreshExpired)
	}

	acct, err := s.Store.Accounts().GetByID(sctx, rt.AccountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fail(rt.AccountID, "unavailable", storeErr(err))
	}
	if err != nil || acct.IsDeleted() {
		return fail(rt.AccountID, "account_deleted", ErrRefreshRevoked)
	}

	pair, child, err := s.mint(acct, rt.ID, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	err = s.Store.WithTx(sctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().MarkRotated(sctx, rt.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// A concurrent refresh won the race.
				return ErrRefreshRevoked
			}
			return err
		}
		return tx.RefreshTokens().Create(sctx, child)
	})
	if err != nil {
		if errors.Is(err, ErrRefreshRevoked) {
			return fail(rt.AccountID, "lost_race", err)
		}
		return fail(rt.AccountID, "unavailable", storeErr(err))
	}

	s.Metrics.RefreshOutcome("rotated")
	audit.Record(ctx, domain.AuditTokenRefreshed, acct.ID, domain.OutcomeSuccess, meta)
	return pair, nil
}

// Revoke retires one refresh token. Unknown tokens are ignored so logout
// always succeeds.
func (s *TokenService) Revoke(ctx context.Context, refreshOpaque string, meta domain.AuditMeta) error {
	if refreshOpaque == "" {
		return nil
	}
	now := clock(s.Now)

	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	rt, err := s.Store.RefreshTokens().GetByHash(sctx, cryptox.FingerprintToken(refreshOpaque))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err)
	}
	if err := s.Store.RefreshTokens().Revoke(sctx, rt.ID, now); err != nil {
		return storeErr(err)
	}

	recorder(s.Audit).Record(ctx, domain.AuditLogout, rt.AccountID, domain.OutcomeSuccess, meta)
	return nil
}

// RevokeAll revokes every refresh token of an account.
func (s *TokenService) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	sctx, cancel := bounded(ctx, s.StoreTimeout)
	defer cancel()

	n, err := s.Store.RefreshTokens().RevokeAllForAccount(sctx, accountID, clock(s.Now))
	return n, storeErr(err)
}
