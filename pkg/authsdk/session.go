package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// refreshSkew refreshes access tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// IdempotencyKeyHeader makes upload retries safe to repeat.
const IdempotencyKeyHeader = "Idempotency-Key"

// Session represents an authenticated session with automatic token refresh.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func newSession(client *SDKClient, tokens *TokenResponse) *Session {
	return &Session{
		client:       client,
		accessToken:  tokens.AccessToken,
		refreshToken: tokens.RefreshToken,
		expiresAt:    time.Now().Add(time.Duration(tokens.ExpiresIn)*time.Second - refreshSkew),
	}
}

// NewSessionFromTokens resumes a session from stored tokens.
func (c *SDKClient) NewSessionFromTokens(accessToken, refreshToken string, expiresIn int) *Session {
	return newSession(c, &TokenResponse{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresIn: expiresIn})
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// getValidToken returns a valid access token, refreshing it if needed.
// Refreshing holds the write lock so concurrent callers never present the
// same refresh token twice, which the server would treat as reuse.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", errors.New("access token expired and no refresh token available")
	}

	tokens, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn)*time.Second - refreshSkew)
	return s.accessToken, nil
}

func (s *Session) do(ctx context.Context, method, path string, payload any, headers map[string]string) (*http.Response, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.doRequest(ctx, method, path, payload, token, headers)
}

// Logout revokes this session's refresh token.
func (s *Session) Logout(ctx context.Context) error {
	rt := s.RefreshToken()
	if rt == "" {
		return errors.New("no refresh token to revoke")
	}
	return s.client.Logout(ctx, rt)
}

// Me returns the authenticated account.
func (s *Session) Me(ctx context.Context) (*Account, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/me", nil, nil)
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := decodeJSON(resp, &acc, http.StatusOK); err != nil {
		return nil, err
	}
	return &acc, nil
}

// UpdateProfile changes the authenticated account's profile and returns
// the updated account.
func (s *Session) UpdateProfile(ctx context.Context, req ProfileUpdateRequest) (*Account, error) {
	resp, err := s.do(ctx, http.MethodPut, "/v1/me", req, nil)
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := decodeJSON(resp, &acc, http.StatusOK); err != nil {
		return nil, err
	}
	return &acc, nil
}

// DeleteAccount soft-deletes the authenticated account.
func (s *Session) DeleteAccount(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodDelete, "/v1/me", nil, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// Usage returns the plan and today's upload numbers.
func (s *Session) Usage(ctx context.Context) (*UsageResponse, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/me/usage", nil, nil)
	if err != nil {
		return nil, err
	}
	var usage UsageResponse
	if err := decodeJSON(resp, &usage, http.StatusOK); err != nil {
		return nil, err
	}
	return &usage, nil
}

// ConsumeUpload takes one upload from today's quota. idempotencyKey is an
// optional UUID; retrying with the same key never counts twice.
func (s *Session) ConsumeUpload(ctx context.Context, idempotencyKey string) (*UploadResponse, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{IdempotencyKeyHeader: idempotencyKey}
	}
	resp, err := s.do(ctx, http.MethodPost, "/v1/me/uploads", nil, headers)
	if err != nil {
		return nil, err
	}
	var out UploadResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upgrade moves an account to the paid plan. Requires the admin role.
func (s *Session) Upgrade(ctx context.Context, accountID string) (*SubscriptionResponse, error) {
	resp, err := s.do(ctx, http.MethodPost, "/v1/admin/accounts/"+url.PathEscape(accountID)+"/upgrade", nil, nil)
	if err != nil {
		return nil, err
	}
	var out SubscriptionResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRole changes an account's role. Requires the admin role.
func (s *Session) SetRole(ctx context.Context, accountID, role string) error {
	resp, err := s.do(ctx, http.MethodPut, "/v1/admin/accounts/"+url.PathEscape(accountID)+"/role", RoleRequest{Role: role}, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// ListAccounts pages through active accounts, newest first. A zero limit
// uses the server default. Requires the admin role.
func (s *Session) ListAccounts(ctx context.Context, offset, limit int) (*AccountList, error) {
	q := pageQuery(offset, limit)
	resp, err := s.do(ctx, http.MethodGet, "/v1/admin/accounts"+encodeQuery(q), nil, nil)
	if err != nil {
		return nil, err
	}
	var out AccountList
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditLogQuery filters ListAuditLog. Empty fields match everything.
type AuditLogQuery struct {
	ActorID string
	Kind    string
	Offset  int
	Limit   int
}

// ListAuditLog reads the audit trail, newest first. Requires the admin role.
func (s *Session) ListAuditLog(ctx context.Context, query AuditLogQuery) (*AuditLogPage, error) {
	q := pageQuery(query.Offset, query.Limit)
	if query.ActorID != "" {
		q.Set("actor_id", query.ActorID)
	}
	if query.Kind != "" {
		q.Set("kind", query.Kind)
	}
	resp, err := s.do(ctx, http.MethodGet, "/v1/admin/audit-logs"+encodeQuery(q), nil, nil)
	if err != nil {
		return nil, err
	}
	var out AuditLogPage
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func pageQuery(offset, limit int) url.Values {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
