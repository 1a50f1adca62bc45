package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Details    any    `json:"details,omitempty"`
}

// decodeJSON reads at most limit bytes of JSON into dest.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any, limit int64) error {
	if r.Body == nil {
		return apperr.ErrInvalidJSON
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.ErrPayloadTooLarge
		}
		if errors.Is(err, io.EOF) {
			return apperr.ErrInvalidJSON.WithMessage("Request body is required")
		}
		return apperr.ErrInvalidJSON
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondData writes the success envelope.
func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, envelope{Success: true, Data: data})
}

// respondError writes the error envelope. Errors without an application
// code are logged and reported as INTERNAL_ERROR.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		a.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("unhandled error")
		appErr = apperr.ErrInternal
	} else if appErr.Status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondJSON(w, appErr.Status, envelope{Error: &errorBody{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.Status,
		Details:    appErr.Details,
	}})
}

// pathID parses the URL parameter name. A malformed id is reported as
// notFound so probing reveals nothing.
func pathID(r *http.Request, name string, notFound *apperr.Error) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, notFound
	}
	return id, nil
}
