package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/store"
)

const (
	DefaultDays = 30
	MinDays     = 1
	MaxDays     = 365

	dateLayout = "2006-01-02"
)

// Presets are the ranges offered by the dashboard.
var Presets = []int{7, 30, 90, 365}

// ParseDays reads the days query parameter. Empty means DefaultDays.
func ParseDays(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errDays()
	}
	return days, checkDays(days)
}

func checkDays(days int) error {
	if days < MinDays || days > MaxDays {
		return errDays()
	}
	return nil
}

func errDays() error {
	return apperr.ErrInvalidInput.WithMessage(fmt.Sprintf("days must be an integer between %d and %d", MinDays, MaxDays))
}

// EngagementPoint is one day of unique viewers and their completion rate.
type EngagementPoint struct {
	Date           string  `json:"date"`
	UniqueUsers    int64   `json:"uniqueUsers"`
	EngagementRate float64 `json:"engagementRate"`
}

// ViewsPoint is one day of raw view counts.
type ViewsPoint struct {
	Date  string `json:"date"`
	Views int64  `json:"views"`
}

// UsersEngagementOverTime covers every UTC day from today-days to today.
func (s *Service) UsersEngagementOverTime(ctx context.Context, tenantID uuid.UUID, days int) ([]EngagementPoint, error) {
	return s.engagement(ctx, store.Scope{TenantID: tenantID}, days)
}

// FlowOverTime is UsersEngagementOverTime restricted to one flow.
func (s *Service) FlowOverTime(ctx context.Context, flowID uuid.UUID, days int) ([]EngagementPoint, error) {
	return s.engagement(ctx, store.Scope{FlowID: flowID}, days)
}

func (s *Service) engagement(ctx context.Context, scope store.Scope, days int) ([]EngagementPoint, error) {
	byDay, start, err := s.daily(ctx, scope, days)
	if err != nil {
		return nil, err
	}
	out := make([]EngagementPoint, 0, days+1)
	for i := 0; i <= days; i++ {
		date := start.AddDate(0, 0, i).Format(dateLayout)
		st := byDay[date]
		out = append(out, EngagementPoint{
			Date:           date,
			UniqueUsers:    st.Viewers,
			EngagementRate: EngagementRate(st.Completers, st.Viewers),
		})
	}
	return out, nil
}

// ViewsOverTime returns zero-filled daily view counts for a tenant.
func (s *Service) ViewsOverTime(ctx context.Context, tenantID uuid.UUID, days int) ([]ViewsPoint, error) {
	byDay, start, err := s.daily(ctx, store.Scope{TenantID: tenantID}, days)
	if err != nil {
		return nil, err
	}
	out := make([]ViewsPoint, 0, days+1)
	for i := 0; i <= days; i++ {
		date := start.AddDate(0, 0, i).Format(dateLayout)
		out = append(out, ViewsPoint{Date: date, Views: byDay[date].Views})
	}
	return out, nil
}

// daily loads the per-day stats of the window and indexes them by date.
func (s *Service) daily(ctx context.Context, scope store.Scope, days int) (map[string]store.DailyStat, time.Time, error) {
	if err := checkDays(days); err != nil {
		return nil, time.Time{}, err
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today.AddDate(0, 0, -days)

	rows, err := s.store.DailyStats(ctx, scope, start)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("daily stats: %w", err)
	}
	byDay := make(map[string]store.DailyStat, len(rows))
	for _, r := range rows {
		byDay[r.Day.UTC().Format(dateLayout)] = r
	}
	return byDay, start, nil
}
