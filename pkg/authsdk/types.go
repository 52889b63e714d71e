package authsdk

import "time"

// ============================================================================
// Requests
// ============================================================================

// SignupRequest creates an account. Every new account starts a trial.
type SignupRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=6,max=1024"`
	FirstName string `json:"first_name,omitempty" validate:"max=100"`
	LastName  string `json:"last_name,omitempty" validate:"max=100"`
	Age       *int   `json:"age,omitempty" validate:"omitempty,min=1,max=150"`
	Gender    string `json:"gender,omitempty" validate:"max=20"`
}

// ProfileUpdateRequest changes the caller's profile. Omitted fields keep
// their current value.
type ProfileUpdateRequest struct {
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Age       *int    `json:"age,omitempty" validate:"omitempty,min=1,max=150"`
	Gender    *string `json:"gender,omitempty" validate:"omitempty,max=20"`
}

// SigninRequest exchanges credentials for tokens.
type SigninRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// RefreshRequest rotates a refresh token. Also used for logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=512"`
}

// PasswordResetRequest asks for a reset token to be sent to an email.
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

// PasswordResetConfirm redeems a reset token.
type PasswordResetConfirm struct {
	Token       string `json:"token" validate:"required,max=512"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=1024"`
}

// RoleRequest changes an account's role.
type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

// ============================================================================
// Responses
// ============================================================================

// TokenResponse is returned by signup, signin and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	// RefreshExpiresIn is the refresh token lifetime in seconds.
	RefreshExpiresIn int `json:"refresh_expires_in"`
}

// Account is the public view of an account.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Age       *int      `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountList is one page of the admin account listing.
type AccountList struct {
	Items  []Account `json:"items"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
}

// AuditEntry is one record of the audit trail. ActorID is empty for
// anonymous attempts.
type AuditEntry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Kind       string            `json:"kind"`
	ActorID    string            `json:"actor_id,omitempty"`
	Outcome    string            `json:"outcome"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditLogPage is one page of the audit trail, newest first.
type AuditLogPage struct {
	Items  []AuditEntry `json:"items"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

// SignupResponse carries the new account and its first token pair.
type SignupResponse struct {
	Account Account `json:"account"`
	TokenResponse
}

// SubscriptionResponse is the resolved plan of an account.
type SubscriptionResponse struct {
	AccountID     string    `json:"account_id"`
	Plan          string    `json:"plan"`
	IsTrial       bool      `json:"is_trial"`
	DaysRemaining int       `json:"days_remaining"`
	TrialEndDate  time.Time `json:"trial_end_date"`
}

// UsageResponse combines the plan with today's upload counter.
// RemainingUploads and DailyLimit are -1 when uploads are unlimited.
type UsageResponse struct {
	Plan             string    `json:"plan"`
	IsTrial          bool      `json:"is_trial"`
	DaysRemaining    int       `json:"days_remaining"`
	TrialEndDate     time.Time `json:"trial_end_date"`
	UploadsToday     int       `json:"uploads_today"`
	RemainingUploads int       `json:"remaining_uploads"`
	DailyLimit       int       `json:"daily_limit"`
}

// UploadResponse is an allowed upload. Remaining is -1 when unlimited.
type UploadResponse struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`

	// Replayed is set when an Idempotency-Key matched an earlier upload.
	Replayed bool `json:"replayed,omitempty"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	// Status is "ok", "degraded" or "unavailable".
	Status  string `json:"status"`
	Uptime  string `json:"uptime,omitempty"`
	Version string `json:"version,omitempty"`

	// Checks maps dependency names to their state (only for /readyz).
	Checks map[string]string `json:"checks,omitempty"`
}
