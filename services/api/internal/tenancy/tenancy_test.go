package tenancy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/mailer"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

type outbox struct {
	mu   sync.Mutex
	sent []mailer.Invitation
	err  error
}

func (o *outbox) SendInvitation(_ context.Context, inv mailer.Invitation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, inv)
	return o.err
}

type fixture struct {
	mem    *store.Memory
	svc    *Service
	mail   *outbox
	clock  time.Time
	tenant models.Tenant

	owner       models.User
	admin       models.User
	member      models.User
	memberships map[uuid.UUID]models.TenantMembership
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		mem:         store.NewMemory(),
		mail:        &outbox{},
		clock:       time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		memberships: map[uuid.UUID]models.TenantMembership{},
	}
	// Memberships are ordered by creation time, so rows get distinct stamps.
	var tick int64
	f.mem.SetClock(func() time.Time {
		tick++
		return f.clock.Add(time.Duration(tick) * time.Millisecond)
	})
	svc, err := New(Options{Store: f.mem, Mailer: f.mail, Logger: zerolog.Nop()})
	require.NoError(t, err)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc

	f.owner = f.user(t, "owner@acme.test", "Olive")
	created, err := svc.Create(ctx, f.owner.ID, "  Acme  ")
	require.NoError(t, err)
	f.tenant = created.Tenant
	om, err := f.mem.GetMembership(ctx, f.tenant.ID, f.owner.ID)
	require.NoError(t, err)
	f.memberships[f.owner.ID] = om

	f.admin = f.user(t, "admin@acme.test", "Adam")
	f.join(t, f.admin, models.RoleAdmin)
	f.member = f.user(t, "member@acme.test", "Mia")
	f.join(t, f.member, models.RoleMember)
	return f
}

func (f *fixture) user(t *testing.T, email, name string) models.User {
	t.Helper()
	u := models.User{ID: uuid.New(), Email: email, Name: name}
	require.NoError(t, f.mem.UpsertUser(context.Background(), &u))
	return u
}

func (f *fixture) join(t *testing.T, u models.User, role models.Role) models.TenantMembership {
	t.Helper()
	m := models.TenantMembership{ID: uuid.New(), TenantID: f.tenant.ID, UserID: u.ID, Role: role}
	require.NoError(t, f.mem.CreateMembership(context.Background(), &m))
	f.memberships[u.ID] = m
	return m
}

func requireCode(t *testing.T, err error, want *apperr.Error) {
	t.Helper()
	require.Error(t, err)
	got, ok := apperr.As(err)
	require.True(t, ok, "not an application error: %v", err)
	assert.Equal(t, want.Code, got.Code)
}

func TestCreateTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Acme", f.tenant.Name)
	_, err := f.svc.Create(ctx, f.owner.ID, "   ")
	requireCode(t, err, apperr.ErrTenantNameRequired)

	second, err := f.svc.Create(ctx, f.member.ID, "Side project")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, second.Role)

	list, err := f.svc.ListForUser(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, f.tenant.ID, list[0].ID)
	assert.Equal(t, models.RoleMember, list[0].Role)
	assert.Equal(t, int64(3), list[0].MemberCount)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestTenantPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := f.user(t, "x@globex.test", "X")

	_, err := f.svc.Get(ctx, f.tenant.ID, stranger.ID)
	requireCode(t, err, apperr.ErrTenantAccessDenied)

	_, err = f.svc.Update(ctx, f.tenant.ID, f.member.ID, "Renamed")
	requireCode(t, err, apperr.ErrTenantUpdateForbidden)
	updated, err := f.svc.Update(ctx, f.tenant.ID, f.admin.ID, " Renamed ")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	requireCode(t, f.svc.Delete(ctx, f.tenant.ID, f.admin.ID), apperr.ErrTenantDeleteForbidden)
	require.NoError(t, f.svc.Delete(ctx, f.tenant.ID, f.owner.ID))
	_, err = f.svc.Get(ctx, f.tenant.ID, f.owner.ID)
	requireCode(t, err, apperr.ErrTenantAccessDenied)
}

func TestActiveTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.svc.Create(ctx, f.member.ID, "Other")
	require.NoError(t, err)

	m, err := f.svc.ActiveTenant(ctx, f.member.ID, uuid.Nil, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, m.TenantID)

	// A tenant the user does not belong to is skipped.
	m, err = f.svc.ActiveTenant(ctx, f.member.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, f.tenant.ID, m.TenantID)

	loner := f.user(t, "loner@acme.test", "L")
	_, err = f.svc.ActiveTenant(ctx, loner.ID)
	requireCode(t, err, apperr.ErrNoActiveTenant)
}

func TestLastOwnerIsProtected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ownerID := f.memberships[f.owner.ID].ID

	tests := []struct {
		name string
		run  func() error
		want *apperr.Error
	}{
		{"admin demotes owner", func() error {
			_, err := f.svc.UpdateRole(ctx, ownerID, f.admin.ID, models.RoleMember)
			return err
		}, apperr.ErrRoleUpdateForbidden},
		{"member removes owner", func() error {
			return f.svc.Remove(ctx, ownerID, f.member.ID)
		}, apperr.ErrRemoveForbidden},
		{"owner demotes self", func() error {
			_, err := f.svc.UpdateRole(ctx, ownerID, f.owner.ID, models.RoleAdmin)
			return err
		}, apperr.ErrCannotChangeOwnRole},
		{"owner removes self", func() error {
			return f.svc.Remove(ctx, ownerID, f.owner.ID)
		}, apperr.ErrCannotRemoveSelf},
		{"owner leaves", func() error {
			return f.svc.Leave(ctx, f.tenant.ID, f.owner.ID)
		}, apperr.ErrCannotLeaveAsLastOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, tt.run(), tt.want)
			n, err := f.mem.CountOwners(ctx, f.tenant.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestOwnershipTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	promoted, err := f.svc.UpdateRole(ctx, f.memberships[f.admin.ID].ID, f.owner.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, promoted.Role)

	// With two owners either may leave or demote the other.
	_, err = f.svc.UpdateRole(ctx, f.memberships[f.owner.ID].ID, f.admin.ID, models.RoleMember)
	require.NoError(t, err)

	requireCode(t, f.svc.Leave(ctx, f.tenant.ID, f.admin.ID), apperr.ErrCannotLeaveAsLastOwner)
	require.NoError(t, f.svc.Leave(ctx, f.tenant.ID, f.owner.ID))
	requireCode(t, f.svc.Leave(ctx, f.tenant.ID, f.owner.ID), apperr.ErrNotMember)

	_, err = f.svc.UpdateRole(ctx, f.memberships[f.member.ID].ID, f.admin.ID, "SUPERUSER")
	requireCode(t, err, apperr.ErrValidation)
	_, err = f.svc.UpdateRole(ctx, uuid.New(), f.admin.ID, models.RoleAdmin)
	requireCode(t, err, apperr.ErrMembershipNotFound)
}

func TestConcurrentDemotionsKeepAnOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := f.user(t, "second@acme.test", "S")
	f.join(t, second, models.RoleOwner)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.UpdateRole(ctx, f.memberships[second.ID].ID, f.owner.ID, models.RoleMember)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.UpdateRole(ctx, f.memberships[f.owner.ID].ID, second.ID, models.RoleMember)
	}()
	wg.Wait()

	n, err := f.mem.CountOwners(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requireCode(t, f.svc.Remove(ctx, f.memberships[f.member.ID].ID, f.admin.ID), apperr.ErrRemoveForbidden)
	require.NoError(t, f.svc.Remove(ctx, f.memberships[f.member.ID].ID, f.owner.ID))

	members, err := f.svc.ListMembers(ctx, f.tenant.ID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "owner@acme.test", members[0].Email)
}

func TestInvitationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Invite(ctx, f.tenant.ID, f.admin.ID, "  New.Person@Acme.test ", "")
	require.NoError(t, err)
	assert.Equal(t, "new.person@acme.test", inv.Email)
	assert.Equal(t, models.RoleMember, inv.Role)
	assert.Equal(t, models.InvitationPending, inv.Status)
	assert.Equal(t, f.clock.Add(7*24*time.Hour), inv.ExpiresAt)
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "Acme", f.mail.sent[0].TenantName)
	assert.Equal(t, "Adam", f.mail.sent[0].InviterName)
	assert.Equal(t, inv.Token, f.mail.sent[0].Token)

	_, err = f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, "new.person@acme.test", models.RoleAdmin)
	requireCode(t, err, apperr.ErrInvitationAlreadySent)

	details, err := f.svc.InvitationByToken(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, "Acme", details.TenantName)
	assert.Equal(t, "admin@acme.test", details.InviterEmail)

	stranger := f.user(t, "someone.else@acme.test", "Else")
	_, err = f.svc.Accept(ctx, inv.Token, stranger.ID)
	requireCode(t, err, apperr.ErrInvitationEmailMismatch)
	_, err = f.svc.Accept(ctx, inv.Token, uuid.Nil)
	requireCode(t, err, apperr.ErrInvitationMustBeSignedIn)

	invitee := f.user(t, "NEW.PERSON@acme.test", "Newt")
	m, err := f.svc.Accept(ctx, inv.Token, invitee.ID)
	require.NoError(t, err)
	assert.Equal(t, f.tenant.ID, m.TenantID)
	assert.Equal(t, models.RoleMember, m.Role)

	_, err = f.svc.Accept(ctx, inv.Token, invitee.ID)
	requireCode(t, err, apperr.ErrInvitationAlreadyAccepted)
	_, err = f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, "new.person@acme.test", "")
	requireCode(t, err, apperr.ErrInvitationAlreadyMember)
}

func TestInviteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Invite(ctx, f.tenant.ID, f.member.ID, "a@b.co", "")
	requireCode(t, err, apperr.ErrInvitePermissionDenied)

	for _, email := range []string{"", "plain", "a@b", "Name <a@b.co>", "a b@c.co", "a@.co"} {
		_, err := f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, email, "")
		requireCode(t, err, apperr.ErrInvalidEmail)
	}

	_, err = f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, "a@b.co", "GUEST")
	requireCode(t, err, apperr.ErrValidation)
	assert.Empty(t, f.mail.sent)
}

func TestInvitationExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, "late@acme.test", models.RoleAdmin)
	require.NoError(t, err)

	f.clock = f.clock.Add(8 * 24 * time.Hour)
	listed, err := f.svc.ListInvitations(ctx, f.tenant.ID, f.member.ID, models.InvitationExpired)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = f.svc.InvitationByToken(ctx, inv.Token)
	requireCode(t, err, apperr.ErrInvitationExpired)
	stored, err := f.mem.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationExpired, stored.Status)

	requireCode(t, f.svc.Decline(ctx, inv.Token), apperr.ErrInvitationExpired)

	// An expired invitation no longer blocks a fresh one.
	again, err := f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, "late@acme.test", "")
	require.NoError(t, err)
	assert.NotEqual(t, inv.Token, again.Token)
}

func TestResendAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, "resend@acme.test", "")
	require.NoError(t, err)
	f.clock = f.clock.Add(10 * 24 * time.Hour)

	_, err = f.svc.Resend(ctx, inv.ID, f.member.ID)
	requireCode(t, err, apperr.ErrInvitationResendForbidden)

	resent, err := f.svc.Resend(ctx, inv.ID, f.admin.ID)
	require.NoError(t, err)
	assert.NotEqual(t, inv.Token, resent.Token)
	assert.Equal(t, models.InvitationPending, resent.Status)
	assert.Equal(t, f.clock.Add(7*24*time.Hour), resent.ExpiresAt)
	assert.Len(t, f.mail.sent, 2)

	_, err = f.svc.InvitationByToken(ctx, inv.Token)
	requireCode(t, err, apperr.ErrInvitationNotFound)
	_, err = f.svc.InvitationByToken(ctx, resent.Token)
	require.NoError(t, err)

	outsider := f.user(t, "out@globex.test", "Out")
	requireCode(t, f.svc.Cancel(ctx, inv.ID, outsider.ID), apperr.ErrInvitationCancelForbidden)
	requireCode(t, f.svc.Cancel(ctx, inv.ID, f.member.ID), apperr.ErrInvitationCancelForbidden)
	require.NoError(t, f.svc.Cancel(ctx, inv.ID, f.owner.ID))
	requireCode(t, f.svc.Cancel(ctx, inv.ID, f.owner.ID), apperr.ErrInvitationNotFound)
}

func TestDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, err := f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, "no@acme.test", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Decline(ctx, inv.Token))
	requireCode(t, f.svc.Decline(ctx, inv.Token), apperr.ErrInvitationAlreadyDeclined)
	requireCode(t, f.svc.Decline(ctx, "missing"), apperr.ErrInvitationNotFound)
}

func TestAcceptWhenAlreadyMemberSettlesInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.user(t, "future@acme.test", "Future")

	inv, err := f.svc.Invite(ctx, f.tenant.ID, f.owner.ID, future.Email, "")
	require.NoError(t, err)
	// Joined through another path before accepting.
	f.join(t, future, models.RoleMember)

	_, err = f.svc.Accept(ctx, inv.Token, future.ID)
	requireCode(t, err, apperr.ErrAlreadyMember)
	stored, err := f.mem.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, stored.Status)
}

func TestMailFailureDoesNotFailInvite(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("smtp down")

	inv, err := f.svc.Invite(context.Background(), f.tenant.ID, f.owner.ID, "still@acme.test", "")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, inv.Status)
}
