package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"navio/services/api/internal/events"
	"navio/services/api/internal/models"
	"navio/services/api/internal/storage"
	"navio/services/api/internal/store"
)

// Outcome is the result of one screenshot upload.
type Outcome struct {
	URL string
	Err error
}

func (o *Outcome) ok() bool {
	return o != nil && o.Err == nil && o.URL != ""
}

func (o *Outcome) url() *string {
	if !o.ok() {
		return nil
	}
	u := o.URL
	return &u
}

// UploadResult holds the outcomes for one step. A nil outcome means the step
// carried no payload of that kind.
type UploadResult struct {
	StepID uuid.UUID
	Thumb  *Outcome
	Full   *Outcome
}

// Landed reports whether at least one upload succeeded.
func (r UploadResult) Landed() bool {
	return r.Thumb.ok() || r.Full.ok()
}

// Created is the ingestion response. Uploads reports per-step screenshot
// outcomes and is not serialized.
type Created struct {
	FlowWithSteps
	Uploads []UploadResult `json:"-"`
}

type pendingUpload struct {
	stepID uuid.UUID
	meta   *StepMeta
}

// Create ingests a flow. Validation happens before any write. The flow and
// its steps are committed in one transaction; screenshots are then uploaded
// and backfilled best effort, so upload failures never fail the call.
func (s *Service) Create(ctx context.Context, in CreateInput) (Created, error) {
	orders, err := validateCreate(in)
	if err != nil {
		return Created{}, err
	}

	flow := models.Flow{
		ID:        uuid.New(),
		TenantID:  in.TenantID,
		CreatedBy: in.CreatorID,
		Name:      strings.TrimSpace(in.Name),
	}
	if in.Meta != nil {
		flow.Meta = datatypes.NewJSONType(*in.Meta)
	}

	steps := make([]models.FlowStep, len(in.Steps))
	var pending []pendingUpload
	for i, st := range in.Steps {
		meta, err := st.Meta.persisted()
		if err != nil {
			return Created{}, err
		}
		steps[i] = models.FlowStep{
			ID:          uuid.New(),
			FlowID:      flow.ID,
			Type:        st.Type,
			URL:         strings.TrimSpace(st.URL),
			Explanation: st.Explanation,
			Order:       orders[i],
			Meta:        meta,
		}
		if st.Meta.hasScreenshots() {
			pending = append(pending, pendingUpload{stepID: steps[i].ID, meta: st.Meta})
		}
	}

	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateFlow(ctx, &flow); err != nil {
			return fmt.Errorf("create flow: %w", err)
		}
		for i := range steps {
			if err := tx.CreateStep(ctx, &steps[i]); err != nil {
				return fmt.Errorf("create step %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return Created{}, translate(err, nil)
	}
	s.metrics.FlowCreated()
	s.log.Info().
		Str("flow_id", flow.ID.String()).
		Str("tenant_id", flow.TenantID.String()).
		Int("steps", len(steps)).
		Int("screenshots", len(pending)).
		Msg("flow created")

	results := s.uploadScreenshots(ctx, flow.ID, pending)
	s.backfill(ctx, results)

	final, err := s.store.ListSteps(ctx, flow.ID)
	if err != nil {
		s.log.Error().Err(err).Str("flow_id", flow.ID.String()).Msg("reload steps after ingest")
		final = steps
	}
	s.notify(ctx, events.FlowCreated, flow)

	return Created{
		FlowWithSteps: FlowWithSteps{Flow: flow, Steps: nonNil(final)},
		Uploads:       results,
	}, nil
}

// uploadScreenshots decodes and uploads every pending payload, concurrently
// across steps. Each step writes only its own result slot.
func (s *Service) uploadScreenshots(ctx context.Context, flowID uuid.UUID, pending []pendingUpload) []UploadResult {
	results := make([]UploadResult, len(pending))
	if len(pending) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(uploadWorkers)
	for i, p := range pending {
		results[i].StepID = p.stepID
		g.Go(func() error {
			if p.meta.ScreenshotThumb != "" {
				results[i].Thumb = s.uploadOne(ctx, flowID, p.stepID, storage.KindThumb, p.meta.ScreenshotThumb)
			}
			if p.meta.ScreenshotFull != "" {
				results[i].Full = s.uploadOne(ctx, flowID, p.stepID, storage.KindFull, p.meta.ScreenshotFull)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) uploadOne(ctx context.Context, flowID, stepID uuid.UUID, kind storage.Kind, dataURL string) *Outcome {
	img, err := storage.DecodeDataURL(dataURL)
	if err == nil {
		key := storage.Key(flowID, stepID, kind, img.Ext(), s.now())
		var u string
		u, err = s.storage.Upload(ctx, key, img)
		if err == nil {
			s.metrics.Upload(string(kind), true)
			return &Outcome{URL: u}
		}
	}
	s.metrics.Upload(string(kind), false)
	s.log.Warn().Err(err).
		Str("flow_id", flowID.String()).
		Str("step_id", stepID.String()).
		Str("kind", string(kind)).
		Msg("screenshot upload skipped")
	return &Outcome{Err: err}
}

// backfill patches the URLs that landed onto their steps. Failures leave the
// step without screenshots and are only logged.
func (s *Service) backfill(ctx context.Context, results []UploadResult) {
	for _, r := range results {
		if !r.Landed() {
			continue
		}
		if err := s.store.SetStepScreenshots(ctx, r.StepID, r.Thumb.url(), r.Full.url()); err != nil {
			s.log.Warn().Err(err).Str("step_id", r.StepID.String()).Msg("backfill screenshot urls")
		}
	}
}
