package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/flows"
	"navio/services/api/internal/store"
)

type extensionTokenResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	TenantID   uuid.UUID `json:"tenantId"`
	TenantName string    `json:"tenantName"`
}

// handleExtensionToken issues a browser extension token for the active tenant.
func (a *API) handleExtensionToken(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if p.User.Email == "" {
		a.respondError(w, r, apperr.ErrUnauthorized)
		return
	}
	m, err := a.activeTenant(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	tenant, err := a.store.GetTenant(r.Context(), m.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		a.respondError(w, r, apperr.ErrTenantNotFound)
		return
	}
	if err != nil {
		a.respondError(w, r, fmt.Errorf("load tenant: %w", err))
		return
	}

	tok, err := a.tokens.Issue(p.User.ID, tenant.ID, p.User.Email)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.log.Info().Str("user_id", p.User.ID.String()).Str("tenant_id", tenant.ID.String()).Msg("extension token issued")
	respondData(w, http.StatusOK, extensionTokenResponse{
		Token:      tok.Value,
		ExpiresAt:  tok.ExpiresAt,
		TenantID:   tenant.ID,
		TenantName: tenant.Name,
	})
}

// handleExtensionCreateFlow ingests a flow recorded by the extension. The
// token's membership is checked again in case it was revoked after issue.
func (a *API) handleExtensionCreateFlow(w http.ResponseWriter, r *http.Request) {
	payload, err := a.tokens.Validate(r.Header.Get("Authorization"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if _, err := a.resolver.VerifyTenantAccess(r.Context(), payload.TenantID, payload.UserID); err != nil {
		a.respondError(w, r, err)
		return
	}

	var in flows.CreateInput
	if err := decodeJSON(w, r, &in, maxIngestBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	in.TenantID = payload.TenantID
	in.CreatorID = payload.UserID

	a.createFlow(w, r, in)
}

func (a *API) createFlow(w http.ResponseWriter, r *http.Request, in flows.CreateInput) {
	created, err := a.flows.Create(r.Context(), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	failed := 0
	for _, res := range created.Uploads {
		if (res.Thumb != nil || res.Full != nil) && !res.Landed() {
			failed++
		}
	}
	if failed > 0 {
		a.log.Warn().
			Str("flow_id", created.ID.String()).
			Int("steps_without_screenshots", failed).
			Msg("flow created with missing screenshots")
	}
	respondData(w, http.StatusCreated, created)
}
