package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
)

type nameRequest struct {
	Name string `json:"name"`
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := a.tenancy.ListForUser(r.Context(), userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	tenant, err := a.tenancy.Create(r.Context(), userID(r), req.Name)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, tenant)
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	tenant, err := a.tenancy.Get(r.Context(), tenantID, userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, tenant)
}

func (a *API) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var req nameRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	tenant, err := a.tenancy.Update(r.Context(), tenantID, userID(r), req.Name)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, tenant)
}

func (a *API) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.tenancy.Delete(r.Context(), tenantID, userID(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	clearTenantCookie(w, r, tenantID.String())
	respondData(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleLeaveTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.tenancy.Leave(r.Context(), tenantID, userID(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	clearTenantCookie(w, r, tenantID.String())
	respondData(w, http.StatusOK, map[string]any{"left": true})
}

// handleSwitchTenant makes a tenant the caller's active one via cookie.
func (a *API) handleSwitchTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	tenant, err := a.tenancy.Get(r.Context(), tenantID, userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	setTenantCookie(w, r, tenant.ID.String())
	respondData(w, http.StatusOK, tenant)
}

func setTenantCookie(w http.ResponseWriter, r *http.Request, tenantID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     TenantCookie,
		Value:    tenantID,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearTenantCookie drops the active tenant cookie when it points at tenantID.
func clearTenantCookie(w http.ResponseWriter, r *http.Request, tenantID string) {
	c, err := r.Cookie(TenantCookie)
	if err != nil || c.Value != tenantID {
		return
	}
	http.SetCookie(w, &http.Cookie{Name: TenantCookie, Value: "", Path: "/", MaxAge: -1})
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	members, err := a.tenancy.ListMembers(r.Context(), tenantID, userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, members)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	membershipID, err := pathID(r, "id", apperr.ErrMembershipNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var req struct {
		Role models.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	m, err := a.tenancy.UpdateRole(r.Context(), membershipID, userID(r), req.Role)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	membershipID, err := pathID(r, "id", apperr.ErrMembershipNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.tenancy.Remove(r.Context(), membershipID, userID(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"removed": true})
}

func (a *API) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	status := models.InvitationStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	list, err := a.tenancy.ListInvitations(r.Context(), tenantID, userID(r), status)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathID(r, "id", apperr.ErrTenantNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var req struct {
		Email string      `json:"email"`
		Role  models.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	inv, err := a.tenancy.Invite(r.Context(), tenantID, userID(r), req.Email, req.Role)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, inv)
}

func (a *API) handleCancelInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, err := pathID(r, "id", apperr.ErrInvitationNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.tenancy.Cancel(r.Context(), invitationID, userID(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (a *API) handleResendInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, err := pathID(r, "id", apperr.ErrInvitationNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	inv, err := a.tenancy.Resend(r.Context(), invitationID, userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inv)
}

func (a *API) handleInvitationByToken(w http.ResponseWriter, r *http.Request) {
	details, err := a.tenancy.InvitationByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, details)
}

func (a *API) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	if err := a.tenancy.Decline(r.Context(), chi.URLParam(r, "token")); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"declined": true})
}

// handleAcceptInvitation joins the signed-in user to the inviting tenant and
// makes it their active one.
func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	m, err := a.tenancy.Accept(r.Context(), chi.URLParam(r, "token"), userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	setTenantCookie(w, r, m.TenantID.String())
	respondData(w, http.StatusOK, m)
}
