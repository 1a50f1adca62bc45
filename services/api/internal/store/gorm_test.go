package store_test

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"navio/pkg/db"
	"navio/services/api/internal/analytics"
	"navio/services/api/internal/models"
	"navio/services/api/internal/sharing"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tenancy"
)

// openGorm connects to the database in NAVIO_TEST_DSN and applies the
// migrations. Every test creates its own tenant, so runs can share a database.
func openGorm(t *testing.T) *store.Gorm {
	t.Helper()
	dsn := os.Getenv("NAVIO_TEST_DSN")
	if dsn == "" {
		t.Skip("NAVIO_TEST_DSN not set")
	}
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, dsn, "up"))

	handle, err := db.Connect(ctx, dsn, logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	st, err := store.NewGorm(handle.ORM, handle.Pool)
	require.NoError(t, err)
	return st
}

type pgFixture struct {
	st     *store.Gorm
	tenant models.Tenant
	owner  models.User
	flow   models.Flow
}

func newPGFixture(t *testing.T) pgFixture {
	t.Helper()
	st := openGorm(t)
	ctx := context.Background()

	owner := models.User{ID: uuid.New(), Email: uuid.NewString() + "@acme.test", Name: "Owner"}
	require.NoError(t, st.UpsertUser(ctx, &owner))
	tenant := models.Tenant{ID: uuid.New(), Name: "Acme"}
	require.NoError(t, st.CreateTenant(ctx, &tenant))
	t.Cleanup(func() { _ = st.DeleteTenant(context.Background(), tenant.ID) })
	require.NoError(t, st.CreateMembership(ctx, &models.TenantMembership{
		ID: uuid.New(), TenantID: tenant.ID, UserID: owner.ID, Role: models.RoleOwner,
	}))
	flow := models.Flow{ID: uuid.New(), TenantID: tenant.ID, CreatedBy: owner.ID, Name: "Onboarding"}
	require.NoError(t, st.CreateFlow(ctx, &flow))

	return pgFixture{st: st, tenant: tenant, owner: owner, flow: flow}
}

func (f pgFixture) step(t *testing.T, order int) models.FlowStep {
	t.Helper()
	s := models.FlowStep{
		ID: uuid.New(), FlowID: f.flow.ID, Type: models.StepClick,
		URL: "https://app.example.com", Explanation: "step", Order: order,
	}
	require.NoError(t, f.st.CreateStep(context.Background(), &s))
	return s
}

func (f pgFixture) event(t *testing.T, typ models.EventType, session string, at time.Time) {
	t.Helper()
	require.NoError(t, f.st.CreateEvent(context.Background(), &models.AnalyticsEvent{
		ID: uuid.New(), FlowID: f.flow.ID, EventType: typ, SessionID: session, Timestamp: at,
	}))
}

func TestGormWithTxRollsBack(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()

	err := f.st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		flow := models.Flow{ID: uuid.New(), TenantID: f.tenant.ID, CreatedBy: f.owner.ID, Name: "Half written"}
		if err := tx.CreateFlow(ctx, &flow); err != nil {
			return err
		}
		for _, order := range []int{0, 1, 1} {
			err := tx.CreateStep(ctx, &models.FlowStep{
				ID: uuid.New(), FlowID: flow.ID, Type: models.StepClick, URL: "https://app.example.com", Order: order,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.ErrorIs(t, err, store.ErrConflict)

	n, err := f.st.CountFlows(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the fixture flow remains")
}

func TestGormSetStepOrdersSwaps(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	a, b := f.step(t, 0), f.step(t, 1)

	require.NoError(t, f.st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetStepOrders(ctx, f.flow.ID, map[uuid.UUID]int{a.ID: 1, b.ID: 0})
	}))

	steps, err := f.st.ListSteps(ctx, f.flow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, b.ID, steps[0].ID)
	assert.Equal(t, a.ID, steps[1].ID)
}

func TestGormConcurrentShareViews(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	f.step(t, 0)

	shares, err := sharing.New(sharing.Options{Store: f.st, Logger: zerolog.Nop()})
	require.NoError(t, err)
	share, err := shares.GetOrCreate(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)

	const viewers = 25
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  []int64
		fails []error
	)
	for i := 0; i < viewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub, err := shares.ResolvePublic(ctx, share.ShareToken)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || pub == nil {
				fails = append(fails, errors.Join(err, errors.New("no flow")))
				return
			}
			seen = append(seen, pub.ViewCount)
		}()
	}
	wg.Wait()
	require.Empty(t, fails)

	got, err := f.st.GetShare(ctx, share.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(viewers), got.ViewCount)

	// Every viewer saw a distinct count.
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, v := range seen {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestGormConcurrentDemotionsKeepAnOwner(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()

	second := models.User{ID: uuid.New(), Email: uuid.NewString() + "@acme.test", Name: "Second"}
	require.NoError(t, f.st.UpsertUser(ctx, &second))
	require.NoError(t, f.st.CreateMembership(ctx, &models.TenantMembership{
		ID: uuid.New(), TenantID: f.tenant.ID, UserID: second.ID, Role: models.RoleOwner,
	}))
	first, err := f.st.GetMembership(ctx, f.tenant.ID, f.owner.ID)
	require.NoError(t, err)
	other, err := f.st.GetMembership(ctx, f.tenant.ID, second.ID)
	require.NoError(t, err)

	svc, err := tenancy.New(tenancy.Options{Store: f.st, Logger: zerolog.Nop()})
	require.NoError(t, err)

	// Each owner demotes the other at the same time.
	start := make(chan struct{})
	errs := make(chan error, 2)
	for _, d := range []struct{ target, caller uuid.UUID }{
		{target: other.ID, caller: f.owner.ID},
		{target: first.ID, caller: second.ID},
	} {
		go func() {
			<-start
			_, err := svc.UpdateRole(ctx, d.target, d.caller, models.RoleMember)
			errs <- err
		}()
	}
	close(start)

	succeeded := 0
	for i := 0; i < 2; i++ {
		if <-errs == nil {
			succeeded++
		}
	}
	assert.LessOrEqual(t, succeeded, 1)

	owners, err := f.st.CountOwners(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, owners, int64(1))
	assert.Equal(t, int64(2-succeeded), owners)
}

func TestGormFlowEventStats(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.event(t, models.EventView, "s1", now)
	f.event(t, models.EventView, "s1", now)
	f.event(t, models.EventFlowComplete, "s1", now)

	stats, err := f.st.FlowEventStats(ctx, f.flow.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EventStats{Views: 2, Completions: 1, Viewers: 1, Completers: 1}, stats)

	svc, err := analytics.New(analytics.Options{Store: f.st, Logger: zerolog.Nop()})
	require.NoError(t, err)
	summary, err := svc.FlowAnalytics(ctx, f.flow.ID)
	require.NoError(t, err)
	assert.Equal(t, analytics.FlowSummary{TotalViews: 2, TotalCompletions: 1, UniqueUsers: 1, EngagementRate: 100}, summary)

	tenantStats, err := f.st.TenantEventStats(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, stats, tenantStats)

	top, err := f.st.TopFlows(ctx, f.tenant.ID, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, f.flow.ID, top[0].FlowID)
	assert.Equal(t, int64(2), top[0].Views)
}

func TestGormStepStats(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	a := f.step(t, 0)
	now := time.Now().UTC()

	for _, session := range []string{"s1", "s2", "s2"} {
		require.NoError(t, f.st.CreateEvent(ctx, &models.AnalyticsEvent{
			ID: uuid.New(), FlowID: f.flow.ID, StepID: &a.ID, EventType: models.EventStepView, SessionID: session, Timestamp: now,
		}))
	}
	f.event(t, models.EventFlowComplete, "s1", now)

	stats, err := f.st.StepStats(ctx, f.flow.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, store.StepStat{StepID: a.ID, Views: 3, Viewers: 2, Completers: 1}, stats[0])
}

func TestGormDailyStatsZeroFill(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	twoDaysAgo := today.AddDate(0, 0, -2)

	f.event(t, models.EventView, "s1", today.Add(time.Minute))
	f.event(t, models.EventView, "s2", today.Add(2*time.Minute))
	f.event(t, models.EventFlowComplete, "s1", today.Add(3*time.Minute))
	f.event(t, models.EventView, "s3", twoDaysAgo.Add(time.Hour))
	// Outside the window.
	f.event(t, models.EventView, "s4", today.AddDate(0, 0, -30))

	rows, err := f.st.DailyStats(ctx, store.Scope{FlowID: f.flow.ID}, today.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, rows, 2, "days without events are omitted")
	assert.True(t, twoDaysAgo.Equal(rows[0].Day), rows[0].Day)
	assert.Equal(t, time.UTC, rows[0].Day.Location())
	assert.True(t, today.Equal(rows[1].Day), rows[1].Day)
	assert.Equal(t, int64(2), rows[1].Views)
	assert.Equal(t, int64(2), rows[1].Viewers)
	assert.Equal(t, int64(1), rows[1].Completers)

	tenantRows, err := f.st.DailyStats(ctx, store.Scope{TenantID: f.tenant.ID}, today.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, rows, tenantRows)

	svc, err := analytics.New(analytics.Options{Store: f.st, Logger: zerolog.Nop()})
	require.NoError(t, err)
	series, err := svc.FlowOverTime(ctx, f.flow.ID, 7)
	require.NoError(t, err)
	require.Len(t, series, 8)
	for i, p := range series {
		switch i {
		case 5:
			assert.Equal(t, int64(1), p.UniqueUsers, p.Date)
		case 7:
			assert.Equal(t, int64(2), p.UniqueUsers, p.Date)
			assert.Equal(t, 50.0, p.EngagementRate)
		default:
			assert.Zero(t, p.UniqueUsers, p.Date)
			assert.Zero(t, p.EngagementRate, p.Date)
		}
	}
}
