package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"navio/pkg/db"
)

const statsColumns = `
	COUNT(*) FILTER (WHERE e.event_type = 'VIEW') AS views,
	COUNT(*) FILTER (WHERE e.event_type = 'FLOW_COMPLETE') AS completions,
	COUNT(DISTINCT e.session_id) FILTER (WHERE e.event_type = 'VIEW') AS viewers,
	COUNT(DISTINCT e.session_id) FILTER (WHERE e.event_type = 'FLOW_COMPLETE') AS completers`

func (g *Gorm) FlowEventStats(ctx context.Context, flowID uuid.UUID) (EventStats, error) {
	var stats EventStats
	err := db.Get(ctx, g.pool, &stats, `SELECT`+statsColumns+`
		FROM analytics_events e
		WHERE e.flow_id = $1`, flowID)
	return stats, err
}

func (g *Gorm) TenantEventStats(ctx context.Context, tenantID uuid.UUID) (EventStats, error) {
	var stats EventStats
	err := db.Get(ctx, g.pool, &stats, `SELECT`+statsColumns+`
		FROM analytics_events e
		JOIN flows f ON f.id = e.flow_id
		WHERE f.tenant_id = $1`, tenantID)
	return stats, err
}

func (g *Gorm) TopFlows(ctx context.Context, tenantID uuid.UUID, limit int) ([]FlowStats, error) {
	var out []FlowStats
	err := db.Select(ctx, g.pool, &out, `SELECT f.id AS flow_id, f.name,`+statsColumns+`
		FROM analytics_events e
		JOIN flows f ON f.id = e.flow_id
		WHERE f.tenant_id = $1
		GROUP BY f.id, f.name
		HAVING COUNT(*) FILTER (WHERE e.event_type = 'VIEW') > 0
		ORDER BY views DESC, f.id ASC
		LIMIT $2`, tenantID, limit)
	return out, err
}

func (g *Gorm) DailyStats(ctx context.Context, scope Scope, since time.Time) ([]DailyStat, error) {
	query := `SELECT
		date_trunc('day', e."timestamp" AT TIME ZONE 'UTC') AS day,
		COUNT(*) FILTER (WHERE e.event_type = 'VIEW') AS views,
		COUNT(DISTINCT e.session_id) FILTER (WHERE e.event_type = 'VIEW') AS viewers,
		COUNT(DISTINCT e.session_id) FILTER (WHERE e.event_type = 'FLOW_COMPLETE') AS completers
		FROM analytics_events e `
	arg := scope.TenantID
	if scope.FlowID != uuid.Nil {
		query += `WHERE e.flow_id = $1 `
		arg = scope.FlowID
	} else {
		query += `JOIN flows f ON f.id = e.flow_id WHERE f.tenant_id = $1 `
	}
	query += `AND e."timestamp" >= $2 GROUP BY day ORDER BY day ASC`

	var out []DailyStat
	if err := db.Select(ctx, g.pool, &out, query, arg, since); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Day = out[i].Day.UTC()
	}
	return out, nil
}

func (g *Gorm) StepStats(ctx context.Context, flowID uuid.UUID) ([]StepStat, error) {
	var out []StepStat
	err := db.Select(ctx, g.pool, &out, `
		WITH completers AS (
			SELECT DISTINCT session_id
			FROM analytics_events
			WHERE flow_id = $1 AND event_type = 'FLOW_COMPLETE'
		)
		SELECT e.step_id,
			COUNT(*) AS views,
			COUNT(DISTINCT e.session_id) AS viewers,
			COUNT(DISTINCT e.session_id) FILTER (WHERE c.session_id IS NOT NULL) AS completers
		FROM analytics_events e
		LEFT JOIN completers c ON c.session_id = e.session_id
		WHERE e.flow_id = $1 AND e.event_type = 'STEP_VIEW' AND e.step_id IS NOT NULL
		GROUP BY e.step_id`, flowID)
	return out, err
}
