package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// StepMetrics is the funnel position of one step.
type StepMetrics struct {
	StepID          uuid.UUID `json:"stepId"`
	StepOrder       int       `json:"stepOrder"`
	StepExplanation string    `json:"stepExplanation"`
	Views           int64     `json:"views"`
	UniqueViewers   int64     `json:"uniqueViewers"`
	DropOffRate     float64   `json:"dropOffRate"`
	CompletionRate  float64   `json:"completionRate"`
}

// StepAnalytics returns one entry per step in order. Flows whose viewers never
// reported STEP_VIEW events fall back to flow-level numbers: every step gets
// the flow's views, and only the last step carries a completion rate.
func (s *Service) StepAnalytics(ctx context.Context, flowID uuid.UUID) ([]StepMetrics, error) {
	steps, err := s.store.ListSteps(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	out := make([]StepMetrics, len(steps))
	if len(steps) == 0 {
		return out, nil
	}
	for i, st := range steps {
		out[i] = StepMetrics{StepID: st.ID, StepOrder: st.Order, StepExplanation: st.Explanation}
	}

	stats, err := s.store.StepStats(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("step stats: %w", err)
	}
	if len(stats) == 0 {
		flow, err := s.store.FlowEventStats(ctx, flowID)
		if err != nil {
			return nil, fmt.Errorf("flow event stats: %w", err)
		}
		for i := range out {
			out[i].Views = flow.Views
			out[i].UniqueViewers = flow.Viewers
		}
		out[len(out)-1].CompletionRate = EngagementRate(flow.Completers, flow.Viewers)
		return out, nil
	}

	type counts struct{ views, viewers, completers int64 }
	byStep := make(map[uuid.UUID]counts, len(stats))
	for _, st := range stats {
		byStep[st.StepID] = counts{st.Views, st.Viewers, st.Completers}
	}
	for i := range out {
		c := byStep[out[i].StepID]
		out[i].Views = c.views
		out[i].UniqueViewers = c.viewers
		out[i].CompletionRate = EngagementRate(c.completers, c.viewers)

		// Sessions that went on: the next step's viewers, or for the last
		// step the viewers that completed the flow.
		next := c.completers
		if i+1 < len(out) {
			next = byStep[out[i+1].StepID].viewers
		}
		out[i].DropOffRate = dropOff(c.viewers, next)
	}
	return out, nil
}

// dropOff is the share of viewers that did not continue, within [0, 100].
func dropOff(viewers, continued int64) float64 {
	if viewers <= 0 {
		return 0
	}
	return EngagementRate(max(viewers-continued, 0), viewers)
}
