package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAnalyticsIndexes, downAnalyticsIndexes)
}

var analyticsIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_flow_type_ts ON analytics_events (flow_id, event_type, "timestamp")`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_flow_session ON analytics_events (flow_id, session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_step ON analytics_events (step_id) WHERE step_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_flows_tenant_created ON flows (tenant_id, created_at DESC)`,
}

func upAnalyticsIndexes(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range analyticsIndexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downAnalyticsIndexes(ctx context.Context, tx *sql.Tx) error {
	for _, name := range []string{
		"idx_flows_tenant_created",
		"idx_analytics_events_step",
		"idx_analytics_events_flow_session",
		"idx_analytics_events_flow_type_ts",
	} {
		if _, err := tx.ExecContext(ctx, "DROP INDEX IF EXISTS "+name); err != nil {
			return err
		}
	}
	return nil
}
