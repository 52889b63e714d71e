package http

import (
	"net/http"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/service"
	"github.com/anamul94/DietGuard/pkg/authsdk"
	"github.com/anamul94/DietGuard/pkg/httpx"
	"github.com/anamul94/DietGuard/pkg/slogx"
)

// AuthHandler serves the unauthenticated /v1/auth endpoints.
type AuthHandler struct {
	AccountService       *service.AccountService
	TokenService         *service.TokenService
	PasswordResetService *service.PasswordResetService
	Now                  func() time.Time
}

func (h *AuthHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// HandleSignup godoc
//
//	@Summary		Create an account
//	@Description	Creates an account on a 7 day trial and signs it in.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.SignupRequest	true	"Signup request"
//	@Success		201		{object}	authsdk.SignupResponse
//	@Failure		400		{object}	authsdk.APIError
//	@Failure		409		{object}	authsdk.APIError	"email_taken"
//	@Failure		503		{object}	authsdk.APIError
//	@Router			/v1/auth/signup [post].
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req authsdk.SignupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	account, pair, err := h.AccountService.Signup(r.Context(), service.SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Age:       req.Age,
		Gender:    req.Gender,
	}, auditMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, authsdk.SignupResponse{
		Account:       accountResponse(account),
		TokenResponse: tokenResponse(pair, h.now()),
	})
}

// HandleSignin godoc
//
//	@Summary		Sign in
//	@Description	Exchanges email and password for an access and refresh token.
//	@Description	Every failure returns the same invalid_credentials error.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.SigninRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		401		{object}	authsdk.APIError	"invalid_credentials"
//	@Failure		429		{object}	authsdk.APIError	"rate_limit_exceeded"
//	@Router			/v1/auth/signin [post].
func (h *AuthHandler) HandleSignin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.SigninRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	_, pair, err := h.AccountService.Signin(r.Context(), req.Email, req.Password, auditMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair, h.now()))
}

// HandleRefresh godoc
//
//	@Summary		Rotate a refresh token
//	@Description	Returns a new token pair. The presented refresh token is dead afterwards;
//	@Description	presenting it again revokes every session of the account.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		401		{object}	authsdk.APIError	"invalid_grant"
//	@Failure		503		{object}	authsdk.APIError
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	pair, err := h.TokenService.Refresh(r.Context(), req.RefreshToken, auditMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair, h.now()))
}

// HandleLogout godoc
//
//	@Summary		Revoke a refresh token
//	@Description	Always answers 204, even for unknown tokens, so callers learn nothing about tokens.
//	@Tags			Auth
//	@Accept			json
//	@Param			body	body	authsdk.RefreshRequest	true	"Refresh token"
//	@Success		204
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	if err := h.TokenService.Revoke(r.Context(), req.RefreshToken, auditMeta(r)); err != nil {
		slogx.FromContext(r.Context()).Warn("logout revoke failed", slogx.Err(err))
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleForgotPassword godoc
//
//	@Summary		Request a password reset
//	@Description	Always answers 202 whether or not the email belongs to an account.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.PasswordResetRequest	true	"Email"
//	@Success		202		{object}	authsdk.MessageResponse
//	@Router			/v1/auth/password/forgot [post].
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.PasswordResetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	h.PasswordResetService.RequestReset(r.Context(), req.Email, auditMeta(r))
	httpx.WriteJSON(w, http.StatusAccepted, authsdk.MessageResponse{
		Message: "if the address belongs to an account, a reset link has been sent",
	})
}

// HandleResetPassword godoc
//
//	@Summary		Reset a password
//	@Description	Redeems a single-use reset token. Every session of the account is signed out.
//	@Tags			Auth
//	@Accept			json
//	@Param			body	body	authsdk.PasswordResetConfirm	true	"Token and new password"
//	@Success		204
//	@Failure		400	{object}	authsdk.APIError
//	@Failure		401	{object}	authsdk.APIError	"invalid_reset_token"
//	@Router			/v1/auth/password/reset [post].
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.PasswordResetConfirm
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	if err := h.PasswordResetService.ConsumeReset(r.Context(), req.Token, req.NewPassword, auditMeta(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
