package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"navio/pkg/ratelimit"
	"navio/services/api/internal/analytics"
	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
)

const publicEventRoute = "/api/public/analytics/event"

type eventRequest struct {
	FlowID    string `json:"flowId"`
	ShareID   string `json:"shareId,omitempty"`
	StepID    string `json:"stepId,omitempty"`
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
}

// handlePublicEvent records a viewer event from a shared flow. Requests are
// limited per client IP; a limiter failure lets the request through. Every
// unknown flow, share or step answers the same NOT_FOUND.
func (a *API) handlePublicEvent(w http.ResponseWriter, r *http.Request) {
	limited, err := a.limiter.Limit(w, r)
	if err != nil {
		a.log.Warn().Err(err).Str("client", ratelimit.ClientIP(r)).Msg("rate limiter unavailable")
		limited = false
	}
	if limited {
		a.metrics.RateLimited(publicEventRoute)
		a.respondError(w, r, apperr.ErrRateLimited)
		return
	}

	var req eventRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	ev := analytics.Event{
		Type:      models.EventType(strings.TrimSpace(req.EventType)),
		SessionID: req.SessionID,
	}
	if ev.FlowID, err = uuid.Parse(req.FlowID); err != nil {
		a.respondError(w, r, apperr.ErrNotFound)
		return
	}
	if req.ShareID != "" {
		id, err := uuid.Parse(req.ShareID)
		if err != nil {
			a.respondError(w, r, apperr.ErrNotFound)
			return
		}
		ev.ShareID = &id
	}
	if req.StepID != "" {
		id, err := uuid.Parse(req.StepID)
		if err != nil {
			a.respondError(w, r, apperr.ErrNotFound)
			return
		}
		ev.StepID = &id
	}

	if err := a.analytics.Record(r.Context(), ev); err != nil {
		a.respondError(w, r, publicError(err))
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true})
}

// publicError folds every not-found into the generic NOT_FOUND.
func publicError(err error) error {
	if appErr, ok := apperr.As(err); ok && appErr.Status == http.StatusNotFound {
		return apperr.ErrNotFound
	}
	return err
}

// flowForAnalytics parses the flow id and checks the caller may read it.
func (a *API) flowForAnalytics(r *http.Request) (uuid.UUID, error) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		return uuid.Nil, err
	}
	if _, _, err := a.resolver.VerifyFlowAccess(r.Context(), flowID, userID(r)); err != nil {
		return uuid.Nil, err
	}
	return flowID, nil
}

func (a *API) handleFlowAnalytics(w http.ResponseWriter, r *http.Request) {
	flowID, err := a.flowForAnalytics(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	summary, err := a.analytics.FlowAnalytics(r.Context(), flowID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, summary)
}

func (a *API) handleFlowOverTime(w http.ResponseWriter, r *http.Request) {
	days, err := analytics.ParseDays(r.URL.Query().Get("days"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	flowID, err := a.flowForAnalytics(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	points, err := a.analytics.FlowOverTime(r.Context(), flowID, days)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, points)
}

func (a *API) handleStepAnalytics(w http.ResponseWriter, r *http.Request) {
	flowID, err := a.flowForAnalytics(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	steps, err := a.analytics.StepAnalytics(r.Context(), flowID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, steps)
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	m, err := a.activeTenant(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	overview, err := a.analytics.TenantOverview(r.Context(), m.TenantID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, overview)
}

func (a *API) handleUsersEngagementOverTime(w http.ResponseWriter, r *http.Request) {
	days, err := analytics.ParseDays(r.URL.Query().Get("days"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	m, err := a.activeTenant(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	points, err := a.analytics.UsersEngagementOverTime(r.Context(), m.TenantID, days)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, points)
}

func (a *API) handleViewsOverTime(w http.ResponseWriter, r *http.Request) {
	days, err := analytics.ParseDays(r.URL.Query().Get("days"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	m, err := a.activeTenant(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	points, err := a.analytics.ViewsOverTime(r.Context(), m.TenantID, days)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, points)
}
