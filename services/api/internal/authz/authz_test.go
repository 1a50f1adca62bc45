package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

func TestPermissionTable(t *testing.T) {
	tests := []struct {
		role    models.Role
		allowed []Action
		denied  []Action
	}{
		{
			role: models.RoleOwner,
			allowed: []Action{ViewFlow, CreateFlow, ModifyOwnFlow, ModifyAnyFlow, DeleteAnyFlow, ManageShare, ViewAnalytics,
				InviteMember, CancelInvitation, ResendInvitation, ChangeMemberRole, RemoveMember, UpdateTenant, DeleteTenant},
		},
		{
			role: models.RoleAdmin,
			allowed: []Action{ViewFlow, CreateFlow, ModifyOwnFlow, ModifyAnyFlow, DeleteAnyFlow, ManageShare, ViewAnalytics,
				InviteMember, CancelInvitation, ResendInvitation, UpdateTenant},
			denied: []Action{ChangeMemberRole, RemoveMember, DeleteTenant},
		},
		{
			role:    models.RoleMember,
			allowed: []Action{ViewFlow, CreateFlow, ModifyOwnFlow, ViewAnalytics},
			denied: []Action{ModifyAnyFlow, DeleteAnyFlow, ManageShare, InviteMember, CancelInvitation,
				ResendInvitation, ChangeMemberRole, RemoveMember, UpdateTenant, DeleteTenant},
		},
		{
			role:   models.Role("GUEST"),
			denied: []Action{ViewFlow, CreateFlow, ModifyOwnFlow},
		},
	}

	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			for _, a := range tc.allowed {
				assert.True(t, Permission(tc.role, a), a.String())
			}
			for _, a := range tc.denied {
				assert.False(t, Permission(tc.role, a), a.String())
			}
		})
	}
}

func TestCanModify(t *testing.T) {
	assert.True(t, CanModify(models.RoleOwner, false))
	assert.True(t, CanModify(models.RoleAdmin, false))
	assert.True(t, CanModify(models.RoleMember, true))
	assert.False(t, CanModify(models.RoleMember, false))
	assert.False(t, CanModify(models.Role(""), true))
}

type fixture struct {
	store   *store.Memory
	tenant  models.Tenant
	owner   models.User
	member  models.User
	outside models.User
	flow    models.Flow
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	f := fixture{store: m}

	for _, u := range []*models.User{&f.owner, &f.member, &f.outside} {
		*u = models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com"}
		require.NoError(t, m.UpsertUser(ctx, u))
	}
	f.tenant = models.Tenant{ID: uuid.New(), Name: "Acme"}
	require.NoError(t, m.CreateTenant(ctx, &f.tenant))
	require.NoError(t, m.CreateMembership(ctx, &models.TenantMembership{ID: uuid.New(), TenantID: f.tenant.ID, UserID: f.owner.ID, Role: models.RoleOwner}))
	require.NoError(t, m.CreateMembership(ctx, &models.TenantMembership{ID: uuid.New(), TenantID: f.tenant.ID, UserID: f.member.ID, Role: models.RoleMember}))
	f.flow = models.Flow{ID: uuid.New(), TenantID: f.tenant.ID, CreatedBy: f.owner.ID, Name: "Flow"}
	require.NoError(t, m.CreateFlow(ctx, &f.flow))
	return f
}

func TestVerifyFlowAccess(t *testing.T) {
	f := newFixture(t)
	r, err := NewResolver(f.store)
	require.NoError(t, err)
	ctx := context.Background()

	flow, m, err := r.VerifyFlowAccess(ctx, f.flow.ID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, f.flow.ID, flow.ID)
	assert.Equal(t, models.RoleMember, m.Role)

	_, _, err = r.VerifyFlowAccess(ctx, uuid.New(), f.member.ID)
	assert.True(t, apperr.Is(err, "FLOW_NOT_FOUND"))

	_, _, err = r.VerifyFlowAccess(ctx, f.flow.ID, f.outside.ID)
	assert.True(t, apperr.Is(err, "TENANT_ACCESS_DENIED"))
}

func TestCanModifyFlow(t *testing.T) {
	f := newFixture(t)
	r, err := NewResolver(f.store)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := r.CanModifyFlow(ctx, f.flow.ID, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.CanDeleteFlow(ctx, f.flow.ID, f.member.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.RequireModifyFlow(ctx, f.flow.ID, f.member.ID)
	assert.True(t, apperr.Is(err, "FORBIDDEN"))
}

func TestRequireRoles(t *testing.T) {
	f := newFixture(t)
	r, err := NewResolver(f.store)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.RequireOwnerOrAdmin(ctx, f.tenant.ID, f.member.ID, nil)
	assert.True(t, apperr.Is(err, "TENANT_UPDATE_FORBIDDEN"))

	_, err = r.RequireOwnerOrAdmin(ctx, f.tenant.ID, f.member.ID, apperr.ErrInvitePermissionDenied)
	assert.True(t, apperr.Is(err, "INVITE_PERMISSION_DENIED"))

	_, err = r.RequireOwner(ctx, f.tenant.ID, f.member.ID, nil)
	assert.True(t, apperr.Is(err, "FORBIDDEN"))

	_, err = r.RequireOwner(ctx, f.tenant.ID, f.outside.ID, nil)
	assert.True(t, apperr.Is(err, "TENANT_ACCESS_DENIED"))

	m, err := r.RequireOwner(ctx, f.tenant.ID, f.owner.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, m.Role)
}
