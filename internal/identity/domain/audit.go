package domain

import (
	"fmt"
	"time"
)

// AuditKind names a security-relevant event.
type AuditKind string

const (
	AuditSignup                 AuditKind = "signup"
	AuditSignin                 AuditKind = "signin"
	AuditTokenIssued            AuditKind = "token_issued"
	AuditTokenRefreshed         AuditKind = "token_refreshed"
	AuditRefreshReuse           AuditKind = "refresh_reuse_detected"
	AuditTokenRejected          AuditKind = "token_rejected"
	AuditLogout                 AuditKind = "logout"
	AuditPasswordResetRequested AuditKind = "password_reset_requested"
	AuditPasswordResetCompleted AuditKind = "password_reset_completed"
	AuditAccountDeleted         AuditKind = "account_deleted"
	AuditProfileUpdated         AuditKind = "profile_updated"
	AuditRoleChanged            AuditKind = "role_changed"
	AuditPlanChanged            AuditKind = "plan_changed"
	AuditQuotaDenied            AuditKind = "quota_denied"
	AuditAuthorizationDenied    AuditKind = "authorization_denied"
)

// AuditKinds lists every kind in the order they were introduced.
var AuditKinds = []AuditKind{
	AuditSignup, AuditSignin, AuditTokenIssued, AuditTokenRefreshed,
	AuditRefreshReuse, AuditTokenRejected, AuditLogout,
	AuditPasswordResetRequested, AuditPasswordResetCompleted,
	AuditAccountDeleted, AuditProfileUpdated, AuditRoleChanged,
	AuditPlanChanged, AuditQuotaDenied, AuditAuthorizationDenied,
}

// ParseAuditKind accepts only known kinds.
func ParseAuditKind(s string) (AuditKind, error) {
	for _, k := range AuditKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown audit kind %q", s)
}

// AuditFilter selects audit entries, newest first. Empty fields match
// everything.
type AuditFilter struct {
	ActorID string
	Kind    AuditKind
	Limit   int
	Offset  int
}

// AuditOutcome is the result of the audited action.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditMeta is the request context attached to an entry.
type AuditMeta struct {
	IP        string
	UserAgent string
	Reason    string
	RequestID string
	Extra     map[string]string
}

// AuditEntry is immutable once written and outlives its account.
type AuditEntry struct {
	ID         string
	OccurredAt time.Time
	Kind       AuditKind
	ActorID    *string // nil for anonymous attempts
	Outcome    AuditOutcome
	AuditMeta
}
