package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the identity service. It covers the
// unauthenticated endpoints and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new identity service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Signup creates an account and returns a session for it.
func (c *SDKClient) Signup(ctx context.Context, req SignupRequest) (*Session, *Account, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/signup", req, "", nil)
	if err != nil {
		return nil, nil, err
	}

	var out SignupResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, nil, err
	}
	return newSession(c, &out.TokenResponse), &out.Account, nil
}

// Signin exchanges credentials for a session.
func (c *SDKClient) Signin(ctx context.Context, req SigninRequest) (*Session, error) {
	tokens, err := c.SigninTokens(ctx, req)
	if err != nil {
		return nil, err
	}
	return newSession(c, tokens), nil
}

// SigninTokens is Signin without the session wrapper.
func (c *SDKClient) SigninTokens(ctx context.Context, req SigninRequest) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/signin", req, "", nil)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Refresh rotates a refresh token. The presented token is dead afterwards.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, "", nil)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Logout revokes a single refresh token. Unknown tokens are not an error.
func (c *SDKClient) Logout(ctx context.Context, refreshToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/logout", RefreshRequest{RefreshToken: refreshToken}, "", nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// RequestPasswordReset always succeeds for well-formed input, whether or not
// the email belongs to an account.
func (c *SDKClient) RequestPasswordReset(ctx context.Context, email string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/password/forgot", PasswordResetRequest{Email: email}, "", nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, &MessageResponse{}, http.StatusAccepted)
}

// ResetPassword redeems a reset token and sets a new password. Every
// session of the account is signed out.
func (c *SDKClient) ResetPassword(ctx context.Context, token, newPassword string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/password/reset",
		PasswordResetConfirm{Token: token, NewPassword: newPassword}, "", nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// GetLiveness checks if the service is alive.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness checks if the service is ready.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *SDKClient) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, "", nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}
