package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"navio/pkg/cache"
	"navio/pkg/telemetry"
	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

const (
	topFlowsLimit   = 5
	maxSessionLen   = 255
	defaultCacheTTL = time.Minute
	overviewPrefix  = "analytics:overview:"
)

// Options wires a Service.
type Options struct {
	Store    store.Store
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
}

// Service records viewer events and aggregates them.
type Service struct {
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	c := opts.Cache
	if c == nil {
		c = cache.Nop{}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		store:    opts.Store,
		cache:    c,
		cacheTTL: ttl,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}, nil
}

// Event is one viewer interaction reported by a public or embedded viewer.
type Event struct {
	FlowID    uuid.UUID
	ShareID   *uuid.UUID
	StepID    *uuid.UUID
	Type      models.EventType
	SessionID string
}

// Record appends an event after checking the flow, share and step it points
// at. Duplicates are accepted; aggregation counts distinct sessions.
func (s *Service) Record(ctx context.Context, ev Event) error {
	var fields []apperr.FieldError
	if !ev.Type.Valid() {
		fields = append(fields, apperr.FieldError{Field: "eventType", Message: "must be one of VIEW, FLOW_COMPLETE, STEP_VIEW"})
	}
	session := strings.TrimSpace(ev.SessionID)
	switch {
	case session == "":
		fields = append(fields, apperr.FieldError{Field: "sessionId", Message: "is required"})
	case len(session) > maxSessionLen:
		fields = append(fields, apperr.FieldError{Field: "sessionId", Message: fmt.Sprintf("must be at most %d characters", maxSessionLen)})
	}
	if ev.Type == models.EventStepView && ev.StepID == nil {
		fields = append(fields, apperr.FieldError{Field: "stepId", Message: "is required for STEP_VIEW events"})
	}
	if len(fields) > 0 {
		return apperr.Validation(fields...)
	}

	if _, err := s.store.GetFlow(ctx, ev.FlowID); err != nil {
		return notFound(err, apperr.ErrFlowNotFound, "load flow")
	}
	if ev.ShareID != nil {
		share, err := s.store.GetShare(ctx, *ev.ShareID)
		if err != nil {
			return notFound(err, apperr.ErrFlowNotFound, "load share")
		}
		if share.FlowID != ev.FlowID {
			return apperr.ErrFlowNotFound
		}
	}
	stepID := ev.StepID
	if ev.Type != models.EventStepView {
		stepID = nil
	} else {
		step, err := s.store.GetStep(ctx, *stepID)
		if err != nil {
			return notFound(err, apperr.ErrStepNotFound, "load step")
		}
		if step.FlowID != ev.FlowID {
			return apperr.ErrStepNotFound
		}
	}

	row := models.AnalyticsEvent{
		ID:        uuid.New(),
		FlowID:    ev.FlowID,
		ShareID:   ev.ShareID,
		StepID:    stepID,
		EventType: ev.Type,
		SessionID: session,
		Timestamp: s.now().UTC(),
	}
	if err := s.store.CreateEvent(ctx, &row); err != nil {
		return notFound(err, apperr.ErrFlowNotFound, "record event")
	}
	s.metrics.EventRecorded(string(ev.Type))
	return nil
}

func notFound(err error, typed *apperr.Error, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return typed
	}
	return fmt.Errorf("%s: %w", op, err)
}

// EngagementRate is the percentage of viewers that completed, rounded to two
// decimals and kept within [0, 100]. No viewers means 0.
func EngagementRate(completers, viewers int64) float64 {
	if viewers <= 0 || completers <= 0 {
		return 0
	}
	rate := 100 * float64(completers) / float64(viewers)
	return round2(min(rate, 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FlowSummary are the headline numbers of one flow.
type FlowSummary struct {
	TotalViews       int64   `json:"totalViews"`
	TotalCompletions int64   `json:"totalCompletions"`
	UniqueUsers      int64   `json:"uniqueUsers"`
	EngagementRate   float64 `json:"engagementRate"`
}

func (s *Service) FlowAnalytics(ctx context.Context, flowID uuid.UUID) (FlowSummary, error) {
	st, err := s.store.FlowEventStats(ctx, flowID)
	if err != nil {
		return FlowSummary{}, fmt.Errorf("flow event stats: %w", err)
	}
	return FlowSummary{
		TotalViews:       st.Views,
		TotalCompletions: st.Completions,
		UniqueUsers:      st.Viewers,
		EngagementRate:   EngagementRate(st.Completers, st.Viewers),
	}, nil
}

// TopFlow is one entry of the overview leaderboard.
type TopFlow struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Views          int64     `json:"views"`
	UniqueUsers    int64     `json:"uniqueUsers"`
	EngagementRate float64   `json:"engagementRate"`
}

// Overview aggregates a whole tenant.
type Overview struct {
	TotalFlows       int64     `json:"totalFlows"`
	TotalShares      int64     `json:"totalShares"`
	TotalViews       int64     `json:"totalViews"`
	TotalCompletions int64     `json:"totalCompletions"`
	TotalUniqueUsers int64     `json:"totalUniqueUsers"`
	EngagementRate   float64   `json:"engagementRate"`
	TopFlows         []TopFlow `json:"topFlows"`
}

// OverviewKey is the cache key of a tenant's overview.
func OverviewKey(tenantID uuid.UUID) string {
	return overviewPrefix + tenantID.String()
}

// TenantOverview returns the tenant aggregate, served from cache when fresh.
func (s *Service) TenantOverview(ctx context.Context, tenantID uuid.UUID) (Overview, error) {
	key := OverviewKey(tenantID)
	var cached Overview
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn().Err(err).Str("key", key).Msg("overview cache read")
	}

	ov, err := s.computeOverview(ctx, tenantID)
	if err != nil {
		return Overview{}, err
	}
	if err := s.cache.Set(ctx, key, ov, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("overview cache write")
	}
	return ov, nil
}

func (s *Service) computeOverview(ctx context.Context, tenantID uuid.UUID) (Overview, error) {
	var (
		ov    Overview
		stats store.EventStats
		top   []store.FlowStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ov.TotalFlows, err = s.store.CountFlows(gctx, tenantID)
		return wrap("count flows", err)
	})
	g.Go(func() (err error) {
		ov.TotalShares, err = s.store.CountShares(gctx, tenantID)
		return wrap("count shares", err)
	})
	g.Go(func() (err error) {
		stats, err = s.store.TenantEventStats(gctx, tenantID)
		return wrap("tenant event stats", err)
	})
	g.Go(func() (err error) {
		top, err = s.store.TopFlows(gctx, tenantID, topFlowsLimit)
		return wrap("top flows", err)
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	ov.TotalViews = stats.Views
	ov.TotalCompletions = stats.Completions
	ov.TotalUniqueUsers = stats.Viewers
	ov.EngagementRate = EngagementRate(stats.Completers, stats.Viewers)
	ov.TopFlows = make([]TopFlow, len(top))
	for i, f := range top {
		ov.TopFlows[i] = TopFlow{
			ID:             f.FlowID,
			Name:           f.Name,
			Views:          f.Views,
			UniqueUsers:    f.Viewers,
			EngagementRate: EngagementRate(f.Completers, f.Viewers),
		}
	}
	return ov, nil
}

// InvalidateOverview drops the cached overview of a tenant.
func (s *Service) InvalidateOverview(ctx context.Context, tenantID uuid.UUID) error {
	return s.cache.Delete(ctx, OverviewKey(tenantID))
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
