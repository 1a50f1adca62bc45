package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

// ListMembers returns the tenant's members, oldest first.
func (s *Service) ListMembers(ctx context.Context, tenantID, userID uuid.UUID) ([]store.Member, error) {
	if _, err := s.resolver.VerifyTenantAccess(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	out, err := s.store.ListMembers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

// UpdateRole changes another member's role. Only an OWNER may do it, and the
// last OWNER cannot be demoted. The owner count and the update share one
// transaction.
func (s *Service) UpdateRole(ctx context.Context, membershipID, userID uuid.UUID, role models.Role) (models.TenantMembership, error) {
	role, ok := models.ParseRole(string(role))
	if !ok {
		return models.TenantMembership{}, apperr.Validation(apperr.FieldError{
			Field: "role", Message: "must be one of OWNER, ADMIN, MEMBER",
		})
	}

	var target models.TenantMembership
	err := s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		target, err = s.guardMember(ctx, tx, membershipID, userID, apperr.ErrRoleUpdateForbidden, apperr.ErrCannotChangeOwnRole)
		if err != nil {
			return err
		}
		if target.Role == models.RoleOwner && role != models.RoleOwner {
			if err := lastOwnerGuard(ctx, tx, target.TenantID, apperr.ErrCannotRemoveLastOwner); err != nil {
				return err
			}
		}
		if err := tx.UpdateMembershipRole(ctx, target.ID, role); err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		target.Role = role
		return nil
	})
	if err != nil {
		return models.TenantMembership{}, err
	}
	return target, nil
}

// Remove deletes another member. Only an OWNER may do it, and never the last
// OWNER.
func (s *Service) Remove(ctx context.Context, membershipID, userID uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		target, err := s.guardMember(ctx, tx, membershipID, userID, apperr.ErrRemoveForbidden, apperr.ErrCannotRemoveSelf)
		if err != nil {
			return err
		}
		if target.Role == models.RoleOwner {
			if err := lastOwnerGuard(ctx, tx, target.TenantID, apperr.ErrCannotRemoveLastOwner); err != nil {
				return err
			}
		}
		if err := tx.DeleteMembership(ctx, target.ID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		return nil
	})
}

// Leave removes the caller's own membership.
func (s *Service) Leave(ctx context.Context, tenantID, userID uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.GetMembership(ctx, tenantID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotMember
		}
		if err != nil {
			return fmt.Errorf("load membership: %w", err)
		}
		if m.Role == models.RoleOwner {
			if err := lastOwnerGuard(ctx, tx, tenantID, apperr.ErrCannotLeaveAsLastOwner); err != nil {
				return err
			}
		}
		if err := tx.DeleteMembership(ctx, m.ID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		return nil
	})
}

// guardMember loads the target membership and checks that the caller is an
// OWNER of its tenant acting on someone else.
func (s *Service) guardMember(ctx context.Context, tx store.Tx, membershipID, userID uuid.UUID, denied, self *apperr.Error) (models.TenantMembership, error) {
	target, err := tx.GetMembershipByID(ctx, membershipID)
	if errors.Is(err, store.ErrNotFound) {
		return models.TenantMembership{}, apperr.ErrMembershipNotFound
	}
	if err != nil {
		return models.TenantMembership{}, fmt.Errorf("load membership: %w", err)
	}
	if _, err := s.resolver.WithReader(tx).RequireOwner(ctx, target.TenantID, userID, denied); err != nil {
		if apperr.Is(err, apperr.ErrTenantAccessDenied.Code) {
			return models.TenantMembership{}, denied
		}
		return models.TenantMembership{}, err
	}
	if target.UserID == userID {
		return models.TenantMembership{}, self
	}
	return target, nil
}

func lastOwnerGuard(ctx context.Context, tx store.Tx, tenantID uuid.UUID, denied *apperr.Error) error {
	owners, err := tx.CountOwners(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if owners <= 1 {
		return denied
	}
	return nil
}
