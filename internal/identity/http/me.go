package http

import (
	"net/http"

	"github.com/anamul94/DietGuard/internal/identity/service"
	"github.com/anamul94/DietGuard/pkg/authsdk"
	"github.com/anamul94/DietGuard/pkg/httpx"
)

// MeHandler serves the endpoints of the authenticated account.
type MeHandler struct {
	AccountService *service.AccountService
	QuotaService   *service.QuotaService
}

// HandleGet godoc
//
//	@Summary	Current account
//	@Tags		Account
//	@Produce	json
//	@Success	200	{object}	authsdk.Account
//	@Failure	401	{object}	authsdk.APIError
//	@Security	BearerAuth
//	@Router		/v1/me [get].
func (h *MeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.AccountService.Get(r.Context(), httpx.AccountID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountResponse(a))
}

// HandleUpdate godoc
//
//	@Summary		Update the current profile
//	@Description	Only the fields present in the body change.
//	@Tags			Account
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.ProfileUpdateRequest	true	"Profile fields"
//	@Success		200		{object}	authsdk.Account
//	@Failure		400		{object}	authsdk.APIError
//	@Failure		401		{object}	authsdk.APIError
//	@Security		BearerAuth
//	@Router			/v1/me [put].
func (h *MeHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ProfileUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	a, err := h.AccountService.UpdateProfile(r.Context(), httpx.AccountID(r.Context()), service.ProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Age:       req.Age,
		Gender:    req.Gender,
	}, auditMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountResponse(a))
}

// HandleDelete godoc
//
//	@Summary		Delete the current account
//	@Description	Soft delete. Every refresh token is revoked; audit history is kept.
//	@Tags			Account
//	@Success		204
//	@Failure		401	{object}	authsdk.APIError
//	@Security		BearerAuth
//	@Router			/v1/me [delete].
func (h *MeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.AccountService.Delete(r.Context(), httpx.AccountID(r.Context()), auditMeta(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUsage godoc
//
//	@Summary		Plan and upload usage
//	@Description	remaining_uploads and daily_limit are -1 for plans without a ceiling.
//	@Tags			Account
//	@Produce		json
//	@Success		200	{object}	authsdk.UsageResponse
//	@Failure		401	{object}	authsdk.APIError
//	@Failure		503	{object}	authsdk.APIError
//	@Security		BearerAuth
//	@Router			/v1/me/usage [get].
func (h *MeHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	u, err := h.QuotaService.Usage(r.Context(), httpx.AccountID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.UsageResponse{
		Plan:             string(u.Plan),
		IsTrial:          u.IsTrial,
		DaysRemaining:    u.DaysRemaining,
		TrialEndDate:     u.TrialEndsAt,
		UploadsToday:     u.UploadsToday,
		RemainingUploads: u.RemainingUploads,
		DailyLimit:       u.DailyLimit,
	})
}

// HandleUpload godoc
//
//	@Summary		Consume one upload
//	@Description	Takes one upload from today's quota (UTC day). Free accounts are limited;
//	@Description	trial and paid accounts are unlimited and get remaining -1.
//	@Description	Retrying with the same Idempotency-Key never counts twice.
//	@Tags			Account
//	@Produce		json
//	@Param			Idempotency-Key	header		string	false	"UUID identifying this upload attempt"
//	@Success		200				{object}	authsdk.UploadResponse
//	@Failure		400				{object}	authsdk.APIError
//	@Failure		429				{object}	authsdk.APIError	"quota_exceeded with limit and remaining"
//	@Failure		503				{object}	authsdk.APIError	"retry with the same Idempotency-Key"
//	@Security		BearerAuth
//	@Router			/v1/me/uploads [post].
func (h *MeHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(authsdk.IdempotencyKeyHeader)
	d, err := h.QuotaService.TryConsume(r.Context(), httpx.AccountID(r.Context()), key, auditMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.UploadResponse{
		Allowed:   d.Allowed,
		Remaining: d.Remaining,
		Replayed:  d.Replayed,
	})
}
