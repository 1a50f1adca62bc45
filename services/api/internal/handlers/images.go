package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/storage"
)

const imageCacheControl = "private, max-age=31536000, immutable"

// handleImage serves a screenshot from a private bucket to members of the
// flow's tenant, either by redirecting to a presigned URL or by streaming it.
func (a *API) handleImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	flowID, ok := storage.FlowIDFromKey(key)
	if !ok {
		a.respondError(w, r, apperr.ErrNotFound)
		return
	}
	if _, _, err := a.resolver.VerifyFlowAccess(r.Context(), flowID, userID(r)); err != nil {
		if apperr.Is(err, apperr.ErrFlowNotFound.Code) {
			err = apperr.ErrNotFound
		}
		a.respondError(w, r, err)
		return
	}

	if ttl := a.opts.ImageRedirectTTL; ttl > 0 {
		target, err := a.storage.Presign(r.Context(), key, ttl)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	body, contentType, err := a.storage.Open(r.Context(), key)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	defer body.Close()
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", imageCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("stream screenshot")
	}
}
