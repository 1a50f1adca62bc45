package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"navio/pkg/telemetry"
	"navio/services/api/internal/apperr"
	"navio/services/api/internal/authz"
	"navio/services/api/internal/events"
	"navio/services/api/internal/models"
	"navio/services/api/internal/storage"
	"navio/services/api/internal/store"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100

	defaultTxTimeout = 10 * time.Second
	uploadWorkers    = 4
)

// Options wires a Service.
type Options struct {
	Store     store.Store
	Storage   *storage.Screenshots
	Notifier  events.Notifier
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
	TxTimeout time.Duration
}

// Service owns flow ingestion and flow/step CRUD.
type Service struct {
	store     store.Store
	resolver  *authz.Resolver
	storage   *storage.Screenshots
	notifier  events.Notifier
	log       zerolog.Logger
	metrics   *telemetry.Metrics
	txTimeout time.Duration
	now       func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	resolver, err := authz.NewResolver(opts.Store)
	if err != nil {
		return nil, err
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = events.Nop{}
	}
	timeout := opts.TxTimeout
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &Service{
		store:     opts.Store,
		resolver:  resolver,
		storage:   opts.Storage,
		notifier:  notifier,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		txTimeout: timeout,
		now:       time.Now,
	}, nil
}

// FlowWithSteps is a flow and its steps ordered by order ascending.
type FlowWithSteps struct {
	models.Flow
	Steps []models.FlowStep `json:"steps"`
}

// Filter narrows List.
type Filter struct {
	Search string
	Tags   []string
	Limit  int
	Offset int
}

// ListItem is one row of the flow list.
type ListItem struct {
	models.Flow
	StepCount    int64   `json:"stepCount"`
	ThumbnailURL *string `json:"thumbnailUrl"`
}

// Page is a window of a tenant's flows.
type Page struct {
	Flows  []ListItem `json:"flows"`
	Total  int64      `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// List returns the tenant's flows, newest first. Each item carries the
// thumbnail of its first step.
func (s *Service) List(ctx context.Context, tenantID, userID uuid.UUID, f Filter) (Page, error) {
	if _, err := s.resolver.VerifyTenantAccess(ctx, tenantID, userID); err != nil {
		return Page{}, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := max(f.Offset, 0)

	var tags []string
	for _, t := range f.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	rows, total, err := s.store.ListFlows(ctx, store.FlowFilter{
		TenantID: tenantID,
		Search:   strings.TrimSpace(f.Search),
		Tags:     tags,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return Page{}, fmt.Errorf("list flows: %w", err)
	}

	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	first, err := s.store.FirstSteps(ctx, ids)
	if err != nil {
		return Page{}, fmt.Errorf("first steps: %w", err)
	}
	counts, err := s.store.CountSteps(ctx, ids)
	if err != nil {
		return Page{}, fmt.Errorf("count steps: %w", err)
	}

	items := make([]ListItem, len(rows))
	for i, r := range rows {
		item := ListItem{Flow: r, StepCount: counts[r.ID]}
		if step, ok := first[r.ID]; ok {
			item.ThumbnailURL = s.storage.ProxyURL(step.ScreenshotThumbURL)
		}
		items[i] = item
	}
	return Page{Flows: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Get returns a flow the user can see, with screenshot URLs rewritten for
// the image proxy when the bucket is private.
func (s *Service) Get(ctx context.Context, flowID, userID uuid.UUID) (FlowWithSteps, error) {
	flow, _, err := s.resolver.VerifyFlowAccess(ctx, flowID, userID)
	if err != nil {
		return FlowWithSteps{}, err
	}
	steps, err := s.store.ListSteps(ctx, flowID)
	if err != nil {
		return FlowWithSteps{}, fmt.Errorf("list steps: %w", err)
	}
	for i := range steps {
		steps[i].ScreenshotThumbURL = s.storage.ProxyURL(steps[i].ScreenshotThumbURL)
		steps[i].ScreenshotFullURL = s.storage.ProxyURL(steps[i].ScreenshotFullURL)
	}
	return FlowWithSteps{Flow: flow, Steps: nonNil(steps)}, nil
}

// Update renames a flow and/or replaces its metadata.
func (s *Service) Update(ctx context.Context, flowID, userID uuid.UUID, in UpdateInput) (FlowWithSteps, error) {
	flow, err := s.resolver.RequireModifyFlow(ctx, flowID, userID)
	if err != nil {
		return FlowWithSteps{}, err
	}
	if err := validateUpdate(in); err != nil {
		return FlowWithSteps{}, err
	}

	if in.Name != nil {
		flow.Name = strings.TrimSpace(*in.Name)
	}
	if in.Meta != nil {
		flow.Meta = datatypes.NewJSONType(*in.Meta)
	}
	if err := s.store.SaveFlow(ctx, &flow); err != nil {
		return FlowWithSteps{}, translate(err, apperr.ErrFlowNotFound)
	}
	s.notify(ctx, events.FlowUpdated, flow)

	steps, err := s.store.ListSteps(ctx, flowID)
	if err != nil {
		return FlowWithSteps{}, fmt.Errorf("list steps: %w", err)
	}
	return FlowWithSteps{Flow: flow, Steps: nonNil(steps)}, nil
}

// Delete removes a flow with its steps, share and events. Screenshots are
// deleted first, best effort.
func (s *Service) Delete(ctx context.Context, flowID, userID uuid.UUID) error {
	flow, err := s.resolver.RequireModifyFlow(ctx, flowID, userID)
	if err != nil {
		return err
	}

	steps, err := s.store.ListSteps(ctx, flowID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}
	for _, st := range steps {
		s.storage.DeleteURLs(ctx, st.ScreenshotThumbURL, st.ScreenshotFullURL)
	}

	if err := s.store.DeleteFlow(ctx, flowID); err != nil {
		return translate(err, apperr.ErrFlowNotFound)
	}
	s.notify(ctx, events.FlowDeleted, flow)
	return nil
}

func (s *Service) notify(ctx context.Context, kind events.Kind, flow models.Flow) {
	err := s.notifier.FlowChanged(ctx, events.Change{
		Kind:     kind,
		TenantID: flow.TenantID,
		FlowID:   flow.ID,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("flow_id", flow.ID.String()).
			Str("kind", string(kind)).
			Msg("notify flow change")
	}
}

func (s *Service) withTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return s.store.WithTx(ctx, fn)
}

// translate maps store sentinels onto application errors. Typed errors pass
// through unchanged.
func translate(err error, notFound *apperr.Error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, store.ErrConflict):
		return apperr.ErrDuplicateStepOrder
	}
	return err
}

func nonNil(steps []models.FlowStep) []models.FlowStep {
	if steps == nil {
		return []models.FlowStep{}
	}
	return steps
}
