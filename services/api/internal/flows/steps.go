package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/events"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

// AddStep appends a step to a flow. Without an explicit order the step goes
// after the current last one. Inline screenshots are uploaded after commit.
func (s *Service) AddStep(ctx context.Context, flowID, userID uuid.UUID, in StepInput) (models.FlowStep, error) {
	flow, err := s.resolver.RequireModifyFlow(ctx, flowID, userID)
	if err != nil {
		return models.FlowStep{}, err
	}
	var v validator
	v.step("step", in)
	if err := v.err(); err != nil {
		return models.FlowStep{}, err
	}
	meta, err := in.Meta.persisted()
	if err != nil {
		return models.FlowStep{}, err
	}

	step := models.FlowStep{
		ID:          uuid.New(),
		FlowID:      flowID,
		Type:        in.Type,
		URL:         strings.TrimSpace(in.URL),
		Explanation: in.Explanation,
		Meta:        meta,
	}
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.ListSteps(ctx, flowID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		if in.Order != nil {
			step.Order = *in.Order
			for _, e := range existing {
				if e.Order == step.Order {
					return apperr.ErrDuplicateStepOrder
				}
			}
		} else if n := len(existing); n > 0 {
			step.Order = existing[n-1].Order + 1
		}
		return tx.CreateStep(ctx, &step)
	})
	if err != nil {
		return models.FlowStep{}, translate(err, apperr.ErrFlowNotFound)
	}

	if in.Meta.hasScreenshots() {
		results := s.uploadScreenshots(ctx, flowID, []pendingUpload{{stepID: step.ID, meta: in.Meta}})
		s.backfill(ctx, results)
		if reloaded, err := s.store.GetStep(ctx, step.ID); err == nil {
			step = reloaded
		}
	}
	s.notify(ctx, events.FlowUpdated, flow)
	return step, nil
}

// UpdateStep edits a step of flowID.
func (s *Service) UpdateStep(ctx context.Context, flowID, stepID, userID uuid.UUID, in UpdateStepInput) (models.FlowStep, error) {
	step, flow, err := s.loadStep(ctx, flowID, stepID, userID)
	if err != nil {
		return models.FlowStep{}, err
	}
	if err := validateStepUpdate(in); err != nil {
		return models.FlowStep{}, err
	}

	if in.Explanation != nil {
		step.Explanation = *in.Explanation
	}
	if in.Order != nil {
		step.Order = *in.Order
	}
	if in.Meta != nil {
		meta, err := in.Meta.persisted()
		if err != nil {
			return models.FlowStep{}, err
		}
		step.Meta = meta
	}
	if err := s.store.SaveStep(ctx, &step); err != nil {
		return models.FlowStep{}, translate(err, apperr.ErrStepNotFound)
	}
	s.notify(ctx, events.FlowUpdated, flow)
	return step, nil
}

// DeleteStep removes a step of flowID and, best effort, its screenshots.
func (s *Service) DeleteStep(ctx context.Context, flowID, stepID, userID uuid.UUID) error {
	step, flow, err := s.loadStep(ctx, flowID, stepID, userID)
	if err != nil {
		return err
	}
	s.storage.DeleteURLs(ctx, step.ScreenshotThumbURL, step.ScreenshotFullURL)
	if err := s.store.DeleteStep(ctx, stepID); err != nil {
		return translate(err, apperr.ErrStepNotFound)
	}
	s.notify(ctx, events.FlowUpdated, flow)
	return nil
}

// ReorderSteps assigns orders 0..n-1 following stepIDs, which must list
// every step of the flow exactly once.
func (s *Service) ReorderSteps(ctx context.Context, flowID, userID uuid.UUID, stepIDs []uuid.UUID) ([]models.FlowStep, error) {
	flow, err := s.resolver.RequireModifyFlow(ctx, flowID, userID)
	if err != nil {
		return nil, err
	}
	if len(stepIDs) == 0 {
		return nil, apperr.ErrInvalidStepOrder.WithMessage("Step IDs array is required and cannot be empty")
	}
	orders := make(map[uuid.UUID]int, len(stepIDs))
	for i, id := range stepIDs {
		if _, dup := orders[id]; dup {
			return nil, apperr.ErrInvalidStepOrder.WithMessage("Duplicate step IDs found. Each step can only appear once in the reorder list.")
		}
		orders[id] = i
	}

	var steps []models.FlowStep
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.ListSteps(ctx, flowID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		owned := make(map[uuid.UUID]bool, len(existing))
		for _, e := range existing {
			owned[e.ID] = true
		}
		for id := range orders {
			if !owned[id] {
				return apperr.ErrInvalidStepOrder.WithMessage("Some steps not found or don't belong to this flow.")
			}
		}
		if len(orders) != len(existing) {
			return apperr.ErrInvalidStepOrder.WithMessage(
				fmt.Sprintf("Expected all %d steps of the flow, got %d.", len(existing), len(orders)))
		}
		if err := tx.SetStepOrders(ctx, flowID, orders); err != nil {
			return fmt.Errorf("set step orders: %w", err)
		}
		steps, err = tx.ListSteps(ctx, flowID)
		return err
	})
	if err != nil {
		return nil, translate(err, apperr.ErrStepNotFound)
	}
	s.notify(ctx, events.FlowUpdated, flow)
	return nonNil(steps), nil
}

// loadStep returns the step after checking it belongs to flowID and that the
// user may modify the flow.
func (s *Service) loadStep(ctx context.Context, flowID, stepID, userID uuid.UUID) (models.FlowStep, models.Flow, error) {
	step, err := s.store.GetStep(ctx, stepID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && step.FlowID != flowID) {
		return models.FlowStep{}, models.Flow{}, apperr.ErrStepNotFound
	}
	if err != nil {
		return models.FlowStep{}, models.Flow{}, fmt.Errorf("load step: %w", err)
	}
	flow, err := s.resolver.RequireModifyFlow(ctx, flowID, userID)
	if err != nil {
		return models.FlowStep{}, models.Flow{}, err
	}
	return step, flow, nil
}
