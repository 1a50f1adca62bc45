package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/flows"
)

func (a *API) handleListFlows(w http.ResponseWriter, r *http.Request) {
	m, err := a.activeTenant(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := flows.Filter{Search: strings.TrimSpace(q.Get("search"))}
	for _, raw := range q["tags"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	if filter.Limit, err = intQuery(q.Get("limit"), "limit"); err != nil {
		a.respondError(w, r, err)
		return
	}
	if filter.Offset, err = intQuery(q.Get("offset"), "offset"); err != nil {
		a.respondError(w, r, err)
		return
	}

	page, err := a.flows.List(r.Context(), m.TenantID, userID(r), filter)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, page)
}

func intQuery(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.ErrInvalidInput.WithMessage(name + " must be a non-negative integer")
	}
	return n, nil
}

// handleCreateFlow ingests a flow from the dashboard into the active tenant.
func (a *API) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	m, err := a.activeTenant(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var in flows.CreateInput
	if err := decodeJSON(w, r, &in, maxIngestBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	in.TenantID = m.TenantID
	in.CreatorID = userID(r)
	a.createFlow(w, r, in)
}

func (a *API) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	flow, err := a.flows.Get(r.Context(), flowID, userID(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, flow)
}

func (a *API) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var in flows.UpdateInput
	if err := decodeJSON(w, r, &in, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	flow, err := a.flows.Update(r.Context(), flowID, userID(r), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, flow)
}

func (a *API) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.flows.Delete(r.Context(), flowID, userID(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleAddStep(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var in flows.StepInput
	if err := decodeJSON(w, r, &in, maxIngestBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	step, err := a.flows.AddStep(r.Context(), flowID, userID(r), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, step)
}

func (a *API) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	stepID, err := pathID(r, "stepId", apperr.ErrStepNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var in flows.UpdateStepInput
	if err := decodeJSON(w, r, &in, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	step, err := a.flows.UpdateStep(r.Context(), flowID, stepID, userID(r), in)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, step)
}

func (a *API) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	stepID, err := pathID(r, "stepId", apperr.ErrStepNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.flows.DeleteStep(r.Context(), flowID, stepID, userID(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleReorderSteps(w http.ResponseWriter, r *http.Request) {
	flowID, err := pathID(r, "id", apperr.ErrFlowNotFound)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var req struct {
		StepIDs []uuid.UUID `json:"stepIds"`
	}
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		a.respondError(w, r, err)
		return
	}
	steps, err := a.flows.ReorderSteps(r.Context(), flowID, userID(r), req.StepIDs)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"steps": steps})
}
