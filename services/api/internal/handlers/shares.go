package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
)

type shareResponse struct {
	models.FlowShare
	URL string `json:"url"`
}

func (a *API) shareURL(token string) string {
	return strings.TrimRight(a.opts.AppBaseURL, "/") + "/share/" + token
}

func (a *API) handleGetShare(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	share, err := a.sharing.GetOrCreate(r.Context(), flowID, userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, shareResponse{FlowShare: share, URL: a.shareURL(share.ShareToken)})
}

// handleRegenerateShare creates the share or replaces its token, revoking the
// old link.
func (a *API) handleRegenerateShare(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	share, err := a.sharing.CreateOrRegenerate(r.Context(), flowID, userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, shareResponse{FlowShare: share, URL: a.shareURL(share.ShareToken)})
}

func (a *API) handleDeleteShare(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.sharing.Delete(r.Context(), flowID, userID(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"deleted": true})
}

// handlePublicShare resolves a share link without authentication. Malformed,
// unknown and revoked tokens all look the same.
func (a *API) handlePublicShare(w http.ResponseWriter, r *http.Request) {
	flow, err := a.sharing.ResolvePublic(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if flow == nil {
		a.respondError(w, r, apperr.ErrNotFound)
		return
	}
	respondData(w, http.StatusOK, flow)
}
