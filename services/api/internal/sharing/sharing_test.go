package sharing

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

type fixture struct {
	mem  *store.Memory
	svc  *Service
	flow models.Flow

	owner    models.User
	creator  models.User
	member   models.User
	outsider models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	f := &fixture{mem: mem}

	tenant := models.Tenant{ID: uuid.New(), Name: "Acme"}
	require.NoError(t, mem.CreateTenant(ctx, &tenant))
	other := models.Tenant{ID: uuid.New(), Name: "Globex"}
	require.NoError(t, mem.CreateTenant(ctx, &other))

	add := func(email string, tenantID uuid.UUID, role models.Role) models.User {
		u := models.User{ID: uuid.New(), Email: email, Name: email}
		require.NoError(t, mem.UpsertUser(ctx, &u))
		require.NoError(t, mem.CreateMembership(ctx, &models.TenantMembership{
			ID: uuid.New(), TenantID: tenantID, UserID: u.ID, Role: role,
		}))
		return u
	}
	f.owner = add("owner@acme.test", tenant.ID, models.RoleOwner)
	f.creator = add("creator@acme.test", tenant.ID, models.RoleMember)
	f.member = add("member@acme.test", tenant.ID, models.RoleMember)
	f.outsider = add("someone@globex.test", other.ID, models.RoleOwner)

	f.flow = models.Flow{ID: uuid.New(), TenantID: tenant.ID, CreatedBy: f.creator.ID, Name: "Checkout"}
	require.NoError(t, mem.CreateFlow(ctx, &f.flow))
	for i, text := range []string{"Open cart", "Pay"} {
		require.NoError(t, mem.CreateStep(ctx, &models.FlowStep{
			ID: uuid.New(), FlowID: f.flow.ID, Type: models.StepClick,
			URL: "https://shop.example.com", Explanation: text, Order: i,
		}))
	}

	svc, err := New(Options{Store: mem, Logger: zerolog.Nop()})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, TokenPrefix))
	assert.Len(t, a, len(TokenPrefix)+43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
}

func TestCreateOrRegenerateResetsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.creator.ID)
	require.NoError(t, err)

	pub, err := f.svc.ResolvePublic(ctx, first.ShareToken)
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, int64(1), pub.ViewCount)

	second, err := f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ShareToken, second.ShareToken)
	assert.Zero(t, second.ViewCount)

	stale, err := f.svc.ResolvePublic(ctx, first.ShareToken)
	require.NoError(t, err)
	assert.Nil(t, stale)

	fresh, err := f.svc.ResolvePublic(ctx, second.ShareToken)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, int64(1), fresh.ViewCount)
}

func TestShareManagementPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.member.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.outsider.ID)
	assert.ErrorIs(t, err, apperr.ErrTenantAccessDenied)

	_, err = f.svc.CreateOrRegenerate(ctx, uuid.New(), f.owner.ID)
	assert.ErrorIs(t, err, apperr.ErrFlowNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.flow.ID, f.member.ID), apperr.ErrForbidden)
}

func TestGetOrCreateIsLazyAndStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Plain members can read the link even though they cannot rotate it.
	a, err := f.svc.GetOrCreate(ctx, f.flow.ID, f.member.ID)
	require.NoError(t, err)
	b, err := f.svc.GetOrCreate(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ShareToken, b.ShareToken)
	assert.Zero(t, a.ViewCount)

	_, err = f.svc.GetOrCreate(ctx, f.flow.ID, f.outsider.ID)
	assert.ErrorIs(t, err, apperr.ErrTenantAccessDenied)
}

func TestDeleteRevokesLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	share, err := f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, f.flow.ID, f.creator.ID))

	pub, err := f.svc.ResolvePublic(ctx, share.ShareToken)
	require.NoError(t, err)
	assert.Nil(t, pub)

	// Deleting again is a no-op.
	require.NoError(t, f.svc.Delete(ctx, f.flow.ID, f.owner.ID))
}

func TestResolvePublicRejectsMalformedTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	share, err := f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)

	for _, token := range []string{
		"",
		"share_abc",
		strings.TrimPrefix(share.ShareToken, TokenPrefix),
		"share_doesnotexistatall",
	} {
		pub, err := f.svc.ResolvePublic(ctx, token)
		require.NoError(t, err, token)
		assert.Nil(t, pub, token)
	}

	got, err := f.mem.GetShare(ctx, share.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ViewCount)
}

func TestResolvePublicReturnsOrderedSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	share, err := f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)

	pub, err := f.svc.ResolvePublic(ctx, share.ShareToken)
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, share.ID, pub.ShareID)
	assert.Equal(t, f.flow.ID, pub.FlowID)
	assert.Equal(t, "Checkout", pub.Name)
	require.Len(t, pub.Steps, 2)
	assert.Equal(t, "Open cart", pub.Steps[0].Explanation)
	assert.Equal(t, "Pay", pub.Steps[1].Explanation)
}

func TestConcurrentResolvesCountEveryView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	share, err := f.svc.CreateOrRegenerate(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ResolvePublic(ctx, share.ShareToken); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.mem.GetShare(ctx, share.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.ViewCount)
}
