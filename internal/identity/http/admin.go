package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/service"
	"github.com/anamul94/DietGuard/pkg/authsdk"
	"github.com/anamul94/DietGuard/pkg/httpx"
)

// AdminHandler serves the admin-only account endpoints.
type AdminHandler struct {
	AccountService      *service.AccountService
	SubscriptionService *service.SubscriptionService
	AuditLogService     *service.AuditLogService
}

// HandleListAccounts godoc
//
//	@Summary	List active accounts
//	@Tags		Admin
//	@Produce	json
//	@Param		offset	query		int	false	"Accounts to skip"
//	@Param		limit	query		int	false	"Page size, 1 to 1000, default 100"
//	@Success	200		{object}	authsdk.AccountList
//	@Failure	400		{object}	authsdk.APIError
//	@Failure	403		{object}	authsdk.APIError
//	@Security	BearerAuth
//	@Router		/v1/admin/accounts [get].
func (h *AdminHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	accounts, err := h.AccountService.List(r.Context(), page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := authsdk.AccountList{Items: make([]authsdk.Account, 0, len(accounts)), Offset: page.Offset, Limit: pageLimit(page)}
	for _, a := range accounts {
		out.Items = append(out.Items, accountResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleListAuditLogs godoc
//
//	@Summary		Read the audit trail
//	@Description	Newest entries first. Entries of deleted accounts are kept.
//	@Tags			Admin
//	@Produce		json
//	@Param			kind		query		string	false	"Audit kind, e.g. signin or quota_denied"
//	@Param			actor_id	query		string	false	"Account that caused the entries"
//	@Param			offset		query		int		false	"Entries to skip"
//	@Param			limit		query		int		false	"Page size, 1 to 1000, default 100"
//	@Success		200			{object}	authsdk.AuditLogPage
//	@Failure		400			{object}	authsdk.APIError
//	@Failure		403			{object}	authsdk.APIError
//	@Security		BearerAuth
//	@Router			/v1/admin/audit-logs [get].
func (h *AdminHandler) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	entries, err := h.AuditLogService.List(r.Context(), service.AuditQuery{
		ActorID: q.Get("actor_id"),
		Kind:    q.Get("kind"),
		Page:    page,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := authsdk.AuditLogPage{Items: make([]authsdk.AuditEntry, 0, len(entries)), Offset: page.Offset, Limit: pageLimit(page)}
	for _, e := range entries {
		out.Items = append(out.Items, auditEntryResponse(e))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func pageLimit(p service.Page) int {
	if p.Limit == 0 {
		return service.DefaultPageLimit
	}
	return p.Limit
}

// parsePage reads offset and limit; the service applies the bounds.
func parsePage(r *http.Request) (service.Page, error) {
	var page service.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"offset": &page.Offset, "limit": &page.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return service.Page{}, service.ErrInvalidPage
		}
		*dst = n
	}
	return page, nil
}

// HandleUpgrade godoc
//
//	@Summary		Upgrade an account to paid
//	@Description	Trial and free accounts move to paid. Upgrading a paid account is a no-op.
//	@Tags			Admin
//	@Produce		json
//	@Param			id	path		string	true	"Account ID"
//	@Success		200	{object}	authsdk.SubscriptionResponse
//	@Failure		403	{object}	authsdk.APIError
//	@Failure		404	{object}	authsdk.APIError
//	@Security		BearerAuth
//	@Router			/v1/admin/accounts/{id}/upgrade [post].
func (h *AdminHandler) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := h.SubscriptionService.Upgrade(r.Context(), httpx.AccountID(r.Context()), id, auditMeta(r))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, subscriptionResponse(id, st))
}

// HandleSetRole godoc
//
//	@Summary	Change an account's role
//	@Tags		Admin
//	@Accept		json
//	@Param		id		path	string				true	"Account ID"
//	@Param		body	body	authsdk.RoleRequest	true	"New role"
//	@Success	204
//	@Failure	400	{object}	authsdk.APIError
//	@Failure	403	{object}	authsdk.APIError
//	@Failure	404	{object}	authsdk.APIError
//	@Security	BearerAuth
//	@Router		/v1/admin/accounts/{id}/role [put].
func (h *AdminHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBindError(w, err)
		return
	}

	err := h.AccountService.SetRole(r.Context(), httpx.AccountID(r.Context()), r.PathValue("id"), domain.Role(req.Role), auditMeta(r))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAdminError reports a missing target account as 404; the caller
// itself is already authenticated.
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrAccountNotFound) {
		authsdk.ErrNotFound.WriteError(w)
		return
	}
	writeServiceError(w, r, err)
}

func subscriptionResponse(accountID string, st domain.PlanStatus) authsdk.SubscriptionResponse {
	return authsdk.SubscriptionResponse{
		AccountID:     accountID,
		Plan:          string(st.Plan),
		IsTrial:       st.IsTrial,
		DaysRemaining: st.DaysRemaining,
		TrialEndDate:  st.TrialEndsAt,
	}
}
