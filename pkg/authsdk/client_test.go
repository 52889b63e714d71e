package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retry     string
		wantCode  string
		wantRetry int
		quota     bool
		retryable bool
	}{
		{
			name:     "envelope",
			status:   http.StatusUnauthorized,
			body:     `{"error":"invalid_grant","error_description":"invalid refresh token"}`,
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "quota",
			status:   http.StatusTooManyRequests,
			body:     `{"error":"quota_exceeded","limit":2,"remaining":0}`,
			wantCode: ErrorCodeQuotaExceeded,
			quota:    true,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"error":"rate_limit_exceeded"}`,
			retry:     "30",
			wantCode:  ErrorCodeRateLimited,
			wantRetry: 30,
			retryable: true,
		},
		{
			name:      "plain text",
			status:    http.StatusServiceUnavailable,
			body:      "upstream down",
			retry:     "1",
			wantCode:  http.StatusText(http.StatusServiceUnavailable),
			wantRetry: 1,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.retry != "" {
				resp.Header.Set("Retry-After", tt.retry)
			}

			err := parseErrorResponse(resp, []byte(tt.body))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.wantCode, apiErr.Code)
			require.Equal(t, tt.wantRetry, apiErr.RetryAfter)
			require.Equal(t, tt.quota, apiErr.IsQuotaExceeded())
			require.Equal(t, tt.retryable, apiErr.IsRetryable())
			if tt.quota {
				require.Equal(t, 2, *apiErr.Limit)
				require.Equal(t, 0, *apiErr.Remaining)
			}
		})
	}
}

func TestAPIError_WriteErrorRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	NewQuotaExceededError(2, 0).WriteError(rec)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	err := parseErrorResponse(rec.Result(), rec.Body.Bytes())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.IsQuotaExceeded())
	require.False(t, apiErr.IsRetryable())
	require.Equal(t, 2, *apiErr.Limit)
}

func TestSession_RefreshesExpiredAccessToken(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "refresh-1", req.RefreshToken)
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 900})
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Account{ID: "acct-1", Email: "ann@example.com", Role: "user"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewSDKClient(srv.URL + "/")
	// Zero lifetime: the first call must refresh.
	s := client.NewSessionFromTokens("access-1", "refresh-1", 0)

	me, err := s.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, "acct-1", me.ID)
	require.Equal(t, "refresh-2", s.RefreshToken())

	_, err = s.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), refreshes.Load())
}

func TestSession_ConsumeUploadSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/me/uploads", r.URL.Path)
		require.Equal(t, "5f0c3a56-2f7c-4a39-9a55-0a3f2b0d8e11", r.Header.Get(IdempotencyKeyHeader))
		NewQuotaExceededError(2, 0).WriteError(w)
	}))
	defer srv.Close()

	s := NewSDKClient(srv.URL).NewSessionFromTokens("access", "refresh", 900)
	_, err := s.ConsumeUpload(context.Background(), "5f0c3a56-2f7c-4a39-9a55-0a3f2b0d8e11")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.IsQuotaExceeded())
}

func TestSession_ListAuditLogEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/admin/audit-logs", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "signin", q.Get("kind"))
		require.Equal(t, "acct 1", q.Get("actor_id"))
		require.Equal(t, "20", q.Get("offset"))
		require.Equal(t, "10", q.Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AuditLogPage{Items: []AuditEntry{{ID: "e1", Kind: "signin"}}, Offset: 20, Limit: 10})
	}))
	defer srv.Close()

	s := NewSDKClient(srv.URL).NewSessionFromTokens("access", "refresh", 900)
	page, err := s.ListAuditLog(context.Background(), AuditLogQuery{ActorID: "acct 1", Kind: "signin", Offset: 20, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 20, page.Offset)
}

func TestSession_ListAccountsOmitsZeroPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/admin/accounts", r.URL.Path)
		require.Empty(t, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AccountList{Items: []Account{}, Limit: 100})
	}))
	defer srv.Close()

	s := NewSDKClient(srv.URL).NewSessionFromTokens("access", "refresh", 900)
	list, err := s.ListAccounts(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, 100, list.Limit)
}

func TestSession_UpdateProfileSendsOnlySetFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/me", r.URL.Path)
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		require.Equal(t, map[string]any{"age": float64(41)}, raw)
		age := 41
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Account{ID: "acct-1", Age: &age})
	}))
	defer srv.Close()

	age := 41
	s := NewSDKClient(srv.URL).NewSessionFromTokens("access", "refresh", 900)
	acc, err := s.UpdateProfile(context.Background(), ProfileUpdateRequest{Age: &age})
	require.NoError(t, err)
	require.Equal(t, 41, *acc.Age)
}
