package tenancy

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/mailer"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

// InvitationDetails is what the invite page shows to the recipient.
type InvitationDetails struct {
	models.Invitation
	TenantName   string `json:"tenantName"`
	InviterName  string `json:"inviterName"`
	InviterEmail string `json:"inviterEmail"`
}

// normalizeEmail lower-cases and checks an address of the form a@b.c.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.ErrInvalidEmail
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	if at < 1 || !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", apperr.ErrInvalidEmail
	}
	return email, nil
}

// Invite offers membership to email. OWNER and ADMIN only. The email is sent
// after the invitation is stored and its failure does not fail the call.
func (s *Service) Invite(ctx context.Context, tenantID, userID uuid.UUID, email string, role models.Role) (models.Invitation, error) {
	if _, err := s.resolver.RequireOwnerOrAdmin(ctx, tenantID, userID, apperr.ErrInvitePermissionDenied); err != nil {
		return models.Invitation{}, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return models.Invitation{}, err
	}
	if role == "" {
		role = models.RoleMember
	}
	role, ok := models.ParseRole(string(role))
	if !ok {
		return models.Invitation{}, apperr.Validation(apperr.FieldError{Field: "role", Message: "must be one of OWNER, ADMIN, MEMBER"})
	}
	token, err := s.newToken()
	if err != nil {
		return models.Invitation{}, err
	}

	now := s.now().UTC()
	inv := models.Invitation{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Email:     email,
		Role:      role,
		InvitedBy: userID,
		Token:     token,
		Status:    models.InvitationPending,
		ExpiresAt: now.Add(s.invitationTTL),
	}
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if u, err := tx.GetUserByEmail(ctx, email); err == nil {
			if _, err := tx.GetMembership(ctx, tenantID, u.ID); err == nil {
				return apperr.ErrInvitationAlreadyMember
			} else if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("load membership: %w", err)
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load user: %w", err)
		}

		pending, err := tx.FindPendingInvitation(ctx, tenantID, email)
		switch {
		case err == nil && pending.ExpiresAt.After(now):
			return apperr.ErrInvitationAlreadySent
		case err == nil:
			pending.Status = models.InvitationExpired
			if err := tx.SaveInvitation(ctx, &pending); err != nil {
				return fmt.Errorf("expire invitation: %w", err)
			}
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("find pending invitation: %w", err)
		}
		return tx.CreateInvitation(ctx, &inv)
	})
	if err != nil {
		return models.Invitation{}, err
	}
	s.sendInvitation(ctx, inv)
	return inv, nil
}

// ListInvitations returns the tenant's invitations, newest first. Pending
// invitations past their expiry are reported as EXPIRED.
func (s *Service) ListInvitations(ctx context.Context, tenantID, userID uuid.UUID, status models.InvitationStatus) ([]models.Invitation, error) {
	if _, err := s.resolver.VerifyTenantAccess(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	out, err := s.store.ListInvitations(ctx, tenantID, "")
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	now := s.now()
	filtered := make([]models.Invitation, 0, len(out))
	for _, inv := range out {
		if inv.Status == models.InvitationPending && !inv.ExpiresAt.After(now) {
			inv.Status = models.InvitationExpired
		}
		if status == "" || inv.Status == status {
			filtered = append(filtered, inv)
		}
	}
	return filtered, nil
}

// InvitationByToken returns a pending invitation. An expired one is marked as
// such on first lookup.
func (s *Service) InvitationByToken(ctx context.Context, token string) (InvitationDetails, error) {
	inv, err := s.pending(ctx, token)
	if err != nil {
		return InvitationDetails{}, err
	}
	details := InvitationDetails{Invitation: inv}
	if t, err := s.store.GetTenant(ctx, inv.TenantID); err == nil {
		details.TenantName = t.Name
	}
	if u, err := s.store.GetUser(ctx, inv.InvitedBy); err == nil {
		details.InviterName = u.Name
		details.InviterEmail = u.Email
	}
	return details, nil
}

// pending loads the invitation behind token and fails unless it can still be
// answered.
func (s *Service) pending(ctx context.Context, token string) (models.Invitation, error) {
	if token == "" {
		return models.Invitation{}, apperr.ErrInvitationNotFound
	}
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return models.Invitation{}, apperr.ErrInvitationNotFound
	}
	if err != nil {
		return models.Invitation{}, fmt.Errorf("load invitation: %w", err)
	}

	if !inv.ExpiresAt.After(s.now()) {
		if inv.Status == models.InvitationPending {
			inv.Status = models.InvitationExpired
			if err := s.store.SaveInvitation(ctx, &inv); err != nil {
				s.log.Warn().Err(err).Str("invitation_id", inv.ID.String()).Msg("mark invitation expired")
			}
		}
		if inv.Status == models.InvitationExpired {
			return models.Invitation{}, apperr.ErrInvitationExpired
		}
	}
	switch inv.Status {
	case models.InvitationPending:
		return inv, nil
	case models.InvitationAccepted:
		return models.Invitation{}, apperr.ErrInvitationAlreadyAccepted
	case models.InvitationDeclined:
		return models.Invitation{}, apperr.ErrInvitationAlreadyDeclined
	default:
		return models.Invitation{}, apperr.ErrInvitationExpired
	}
}

// Accept joins the signed-in user to the invitation's tenant. The user's
// email must match the invitation, ignoring case.
func (s *Service) Accept(ctx context.Context, token string, userID uuid.UUID) (models.TenantMembership, error) {
	if userID == uuid.Nil {
		return models.TenantMembership{}, apperr.ErrInvitationMustBeSignedIn
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.TenantMembership{}, apperr.ErrInvitationMustBeSignedIn
	}
	if err != nil {
		return models.TenantMembership{}, fmt.Errorf("load user: %w", err)
	}

	inv, err := s.pending(ctx, token)
	if err != nil {
		return models.TenantMembership{}, err
	}
	if !strings.EqualFold(strings.TrimSpace(user.Email), inv.Email) {
		return models.TenantMembership{}, apperr.ErrInvitationEmailMismatch
	}

	// Already a member: the invitation is settled but nothing is created.
	if _, err := s.store.GetMembership(ctx, inv.TenantID, userID); err == nil {
		inv.Status = models.InvitationAccepted
		if err := s.store.SaveInvitation(ctx, &inv); err != nil {
			return models.TenantMembership{}, fmt.Errorf("settle invitation: %w", err)
		}
		return models.TenantMembership{}, apperr.ErrAlreadyMember
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.TenantMembership{}, fmt.Errorf("load membership: %w", err)
	}

	m := models.TenantMembership{ID: uuid.New(), TenantID: inv.TenantID, UserID: userID, Role: inv.Role}
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateMembership(ctx, &m); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.ErrAlreadyMember
			}
			return fmt.Errorf("create membership: %w", err)
		}
		inv.Status = models.InvitationAccepted
		if err := tx.SaveInvitation(ctx, &inv); err != nil {
			return fmt.Errorf("accept invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.TenantMembership{}, err
	}
	s.log.Info().Str("tenant_id", inv.TenantID.String()).Str("user_id", userID.String()).Msg("invitation accepted")
	return m, nil
}

// Decline settles a pending invitation without joining. No sign-in needed.
func (s *Service) Decline(ctx context.Context, token string) error {
	inv, err := s.pending(ctx, token)
	if err != nil {
		return err
	}
	inv.Status = models.InvitationDeclined
	if err := s.store.SaveInvitation(ctx, &inv); err != nil {
		return fmt.Errorf("decline invitation: %w", err)
	}
	return nil
}

// Cancel deletes an invitation. OWNER and ADMIN only.
func (s *Service) Cancel(ctx context.Context, invitationID, userID uuid.UUID) error {
	inv, err := s.managedInvitation(ctx, invitationID, userID, apperr.ErrInvitationCancelForbidden)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInvitation(ctx, inv.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete invitation: %w", err)
	}
	return nil
}

// Resend issues a new token and expiry and emails the invitation again.
// Accepted invitations cannot be resent.
func (s *Service) Resend(ctx context.Context, invitationID, userID uuid.UUID) (models.Invitation, error) {
	inv, err := s.managedInvitation(ctx, invitationID, userID, apperr.ErrInvitationResendForbidden)
	if err != nil {
		return models.Invitation{}, err
	}
	if inv.Status == models.InvitationAccepted {
		return models.Invitation{}, apperr.ErrInvitationAlreadyAccepted
	}
	token, err := s.newToken()
	if err != nil {
		return models.Invitation{}, err
	}
	inv.Token = token
	inv.Status = models.InvitationPending
	inv.ExpiresAt = s.now().UTC().Add(s.invitationTTL)
	if err := s.store.SaveInvitation(ctx, &inv); err != nil {
		return models.Invitation{}, fmt.Errorf("save invitation: %w", err)
	}
	s.sendInvitation(ctx, inv)
	return inv, nil
}

func (s *Service) managedInvitation(ctx context.Context, invitationID, userID uuid.UUID, denied *apperr.Error) (models.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Invitation{}, apperr.ErrInvitationNotFound
	}
	if err != nil {
		return models.Invitation{}, fmt.Errorf("load invitation: %w", err)
	}
	if _, err := s.resolver.RequireOwnerOrAdmin(ctx, inv.TenantID, userID, denied); err != nil {
		if apperr.Is(err, apperr.ErrTenantAccessDenied.Code) {
			return models.Invitation{}, denied
		}
		return models.Invitation{}, err
	}
	return inv, nil
}

// sendInvitation emails inv. Failures are logged only.
func (s *Service) sendInvitation(ctx context.Context, inv models.Invitation) {
	if s.mailer == nil {
		return
	}
	msg := mailer.Invitation{
		To:        inv.Email,
		Role:      string(inv.Role),
		Token:     inv.Token,
		ExpiresAt: inv.ExpiresAt,
	}
	if t, err := s.store.GetTenant(ctx, inv.TenantID); err == nil {
		msg.TenantName = t.Name
	}
	if u, err := s.store.GetUser(ctx, inv.InvitedBy); err == nil {
		msg.InviterName = u.Name
		if msg.InviterName == "" {
			msg.InviterName = u.Email
		}
	}
	if err := s.mailer.SendInvitation(ctx, msg); err != nil {
		s.log.Warn().Err(err).
			Str("invitation_id", inv.ID.String()).
			Str("tenant_id", inv.TenantID.String()).
			Msg("send invitation email")
	}
}
