package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/anamul94/DietGuard/pkg/httpx"
)

// Error codes returned in the "error" field.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeValidation         = "validation_error"
	ErrorCodeEmailTaken         = "email_taken"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeInvalidGrant       = "invalid_grant"
	ErrorCodeInvalidResetToken  = "invalid_reset_token"
	ErrorCodeForbidden          = "forbidden"
	ErrorCodeNotFound           = "not_found"
	ErrorCodeQuotaExceeded      = "quota_exceeded"
	ErrorCodeRateLimited        = "rate_limit_exceeded"
	ErrorCodeUnavailable        = "temporarily_unavailable"
	ErrorCodeServerError        = "server_error"
)

// APIError is the error envelope used by every endpoint. The server writes
// it with WriteError and the SDK parses it back from responses.
type APIError struct {
	StatusCode int `json:"-"`

	Code        string            `json:"error"`
	Description string            `json:"error_description,omitempty"`
	Details     map[string]string `json:"details,omitempty"`

	// Quota fields, only set for quota_exceeded.
	Limit     *int `json:"limit,omitempty"`
	Remaining *int `json:"remaining,omitempty"`

	// RetryAfter in seconds, for rate limiting and transient failures.
	RetryAfter int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes this error to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	httpx.WriteJSON(w, e.StatusCode, e)
}

// IsQuotaExceeded reports a daily upload quota denial.
func (e *APIError) IsQuotaExceeded() bool { return e.Code == ErrorCodeQuotaExceeded }

// IsUnauthorized reports an authentication failure of any kind.
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IsRetryable reports whether the caller may retry with backoff.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests && !e.IsQuotaExceeded()
}

// NewAPIError builds an error with the given status, code and description.
func NewAPIError(status int, code, desc string) *APIError {
	return &APIError{StatusCode: status, Code: code, Description: desc}
}

// NewQuotaExceededError builds the quota denial with its concrete numbers.
func NewQuotaExceededError(limit, remaining int) *APIError {
	return &APIError{
		StatusCode:  http.StatusTooManyRequests,
		Code:        ErrorCodeQuotaExceeded,
		Description: fmt.Sprintf("daily upload limit of %d reached, try again after midnight UTC", limit),
		Limit:       &limit,
		Remaining:   &remaining,
	}
}

var (
	// ErrInvalidCredentials is the uniform signin failure.
	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid credentials",
	}

	// ErrInvalidGrant covers unknown, revoked, reused and expired refresh tokens.
	ErrInvalidGrant = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidGrant,
		Description: "invalid refresh token",
	}

	// ErrInvalidResetToken covers every reset token failure.
	ErrInvalidResetToken = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidResetToken,
		Description: "invalid or expired reset token",
	}

	ErrForbidden = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeForbidden,
		Description: "insufficient role",
	}

	ErrNotFound = &APIError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeNotFound,
		Description: "resource not found",
	}

	ErrUnavailable = &APIError{
		StatusCode:  http.StatusServiceUnavailable,
		Code:        ErrorCodeUnavailable,
		Description: "temporarily unavailable, retry with backoff",
		RetryAfter:  1,
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// parseErrorResponse converts a non-2xx response into an *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Description = string(body)
	}
	if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = ra
	}
	return apiErr
}
