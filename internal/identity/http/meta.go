package http

import (
	"net/http"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/pkg/authsdk"
	"github.com/anamul94/DietGuard/pkg/httpx"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

const maxUserAgentLen = 512

// auditMeta captures the request context stored with audit entries.
func auditMeta(r *http.Request) domain.AuditMeta {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return domain.AuditMeta{
		IP:        httpx.IPKeyExtractor(r),
		UserAgent: ua,
		RequestID: slogx.RequestID(r.Context()),
	}
}

func tokenResponse(pair domain.TokenPair, now time.Time) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        max(0, int(pair.AccessExpiresAt.Sub(now).Seconds())),
		RefreshExpiresIn: max(0, int(pair.RefreshExpiresAt.Sub(now).Seconds())),
	}
}

func accountResponse(a domain.Account) authsdk.Account {
	return authsdk.Account{
		ID:        a.ID,
		Email:     a.Email,
		Role:      string(a.Role),
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Age:       a.Age,
		Gender:    a.Gender,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func auditEntryResponse(e domain.AuditEntry) authsdk.AuditEntry {
	out := authsdk.AuditEntry{
		ID:         e.ID,
		OccurredAt: e.OccurredAt,
		Kind:       string(e.Kind),
		Outcome:    string(e.Outcome),
		IP:         e.IP,
		UserAgent:  e.UserAgent,
		Reason:     e.Reason,
		RequestID:  e.RequestID,
		Metadata:   e.Extra,
	}
	if e.ActorID != nil {
		out.ActorID = *e.ActorID
	}
	return out
}
