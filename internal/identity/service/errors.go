package service

import (
	"errors"
	"fmt"

	"github.com/anamul94/DietGuard/internal/identity/store"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindQuotaExceeded
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Validation
var (
	ErrInvalidEmail          = errors.New("invalid_email")
	ErrWeakPassword          = errors.New("weak_password")
	ErrEmailTaken            = errors.New("email_taken")
	ErrInvalidRole           = errors.New("invalid_role")
	ErrInvalidTransition     = errors.New("invalid_plan_transition")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidProfile        = errors.New("invalid_profile")
	ErrInvalidPage           = errors.New("invalid_page")
	ErrInvalidAuditKind      = errors.New("invalid_audit_kind")
)

// Authentication
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrTokenExpired       = errors.New("token_expired")
	ErrTokenMalformed     = errors.New("token_malformed")
	ErrTokenSignature     = errors.New("token_signature_invalid")
	ErrRefreshNotFound    = errors.New("refresh_token_not_found")
	ErrRefreshRevoked     = errors.New("refresh_token_revoked")
	ErrRefreshExpired     = errors.New("refresh_token_expired")
	ErrResetNotFound      = errors.New("reset_token_not_found")
	ErrResetExpired       = errors.New("reset_token_expired")
	ErrResetConsumed      = errors.New("reset_token_consumed")
	ErrAccountNotFound    = errors.New("account_not_found")
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrQuotaExceeded = errors.New("quota_exceeded")

	// ErrTransient marks a store failure the caller may retry.
	ErrTransient = errors.New("temporarily_unavailable")
)

// QuotaExceededError is a terminal denial carrying the numbers the client
// may show to the user.
type QuotaExceededError struct {
	Limit int
	Used  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota_exceeded: %d of %d uploads used today", e.Used, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// Remaining is never negative.
func (e *QuotaExceededError) Remaining() int { return max(0, e.Limit-e.Used) }

var (
	validationErrs = []error{
		ErrInvalidEmail, ErrWeakPassword, ErrEmailTaken, ErrInvalidRole,
		ErrInvalidTransition, ErrInvalidIdempotencyKey,
		ErrInvalidProfile, ErrInvalidPage, ErrInvalidAuditKind,
	}
	authenticationErrs = []error{
		ErrInvalidCredentials, ErrTokenExpired, ErrTokenMalformed, ErrTokenSignature,
		ErrRefreshNotFound, ErrRefreshRevoked, ErrRefreshExpired,
		ErrResetNotFound, ErrResetExpired, ErrResetConsumed, ErrAccountNotFound,
	}
)

// KindOf maps err onto the error taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	switch {
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrForbidden):
		return KindAuthorization
	}
	for _, e := range validationErrs {
		if errors.Is(err, e) {
			return KindValidation
		}
	}
	for _, e := range authenticationErrs {
		if errors.Is(err, e) {
			return KindAuthentication
		}
	}
	return KindInternal
}

// transient wraps an unexpected store failure. Store sentinels must be
// mapped by the caller before reaching here.
func transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// isStoreMiss reports the store sentinels that carry domain meaning.
func isStoreMiss(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrAlreadyExists) ||
		errors.Is(err, store.ErrConflict)
}

// storeErr passes store sentinels and service errors through and marks
// everything else, timeouts included, as transient.
func storeErr(err error) error {
	if err == nil || isStoreMiss(err) || KindOf(err) != KindInternal {
		return err
	}
	return transient(err)
}
