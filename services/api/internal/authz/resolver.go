package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
)

// Reader is the subset of the store the resolver needs. Both store.Store and
// store.Tx satisfy it.
type Reader interface {
	GetFlow(ctx context.Context, id uuid.UUID) (models.Flow, error)
	GetMembership(ctx context.Context, tenantID, userID uuid.UUID) (models.TenantMembership, error)
}

// Resolver answers tenant and flow access questions for a user.
type Resolver struct {
	store Reader
}

// NewResolver builds a Resolver over r.
func NewResolver(r Reader) (*Resolver, error) {
	if r == nil {
		return nil, errors.New("store is required")
	}
	return &Resolver{store: r}, nil
}

// VerifyTenantAccess returns the user's membership in tenantID.
func (r *Resolver) VerifyTenantAccess(ctx context.Context, tenantID, userID uuid.UUID) (models.TenantMembership, error) {
	m, err := r.store.GetMembership(ctx, tenantID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.TenantMembership{}, apperr.ErrTenantAccessDenied
	}
	if err != nil {
		return models.TenantMembership{}, fmt.Errorf("load membership: %w", err)
	}
	return m, nil
}

// VerifyFlowAccess loads the flow and the user's membership in its tenant.
func (r *Resolver) VerifyFlowAccess(ctx context.Context, flowID, userID uuid.UUID) (models.Flow, models.TenantMembership, error) {
	flow, err := r.store.GetFlow(ctx, flowID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Flow{}, models.TenantMembership{}, apperr.ErrFlowNotFound
	}
	if err != nil {
		return models.Flow{}, models.TenantMembership{}, fmt.Errorf("load flow: %w", err)
	}

	m, err := r.VerifyTenantAccess(ctx, flow.TenantID, userID)
	if err != nil {
		return models.Flow{}, models.TenantMembership{}, err
	}
	return flow, m, nil
}

// CanModifyFlow is true for OWNER/ADMIN members and for the flow's creator.
// A missing flow or membership yields the matching access error.
func (r *Resolver) CanModifyFlow(ctx context.Context, flowID, userID uuid.UUID) (bool, error) {
	flow, m, err := r.VerifyFlowAccess(ctx, flowID, userID)
	if err != nil {
		return false, err
	}
	return CanModify(m.Role, flow.CreatedBy == userID), nil
}

// CanDeleteFlow follows the same rule as CanModifyFlow.
func (r *Resolver) CanDeleteFlow(ctx context.Context, flowID, userID uuid.UUID) (bool, error) {
	return r.CanModifyFlow(ctx, flowID, userID)
}

// RequireModifyFlow returns the flow when the user may modify it, else FORBIDDEN.
func (r *Resolver) RequireModifyFlow(ctx context.Context, flowID, userID uuid.UUID) (models.Flow, error) {
	flow, m, err := r.VerifyFlowAccess(ctx, flowID, userID)
	if err != nil {
		return models.Flow{}, err
	}
	if !CanModify(m.Role, flow.CreatedBy == userID) {
		return models.Flow{}, apperr.ErrForbidden
	}
	return flow, nil
}

// RequireOwnerOrAdmin fails with denied (TENANT_UPDATE_FORBIDDEN when nil)
// unless the user is an OWNER or ADMIN of the tenant.
func (r *Resolver) RequireOwnerOrAdmin(ctx context.Context, tenantID, userID uuid.UUID, denied *apperr.Error) (models.TenantMembership, error) {
	if denied == nil {
		denied = apperr.ErrTenantUpdateForbidden
	}
	m, err := r.VerifyTenantAccess(ctx, tenantID, userID)
	if err != nil {
		return m, err
	}
	if m.Role != models.RoleOwner && m.Role != models.RoleAdmin {
		return m, denied
	}
	return m, nil
}

// RequireOwner fails with denied (FORBIDDEN when nil) unless the user is an
// OWNER of the tenant.
func (r *Resolver) RequireOwner(ctx context.Context, tenantID, userID uuid.UUID, denied *apperr.Error) (models.TenantMembership, error) {
	if denied == nil {
		denied = apperr.ErrForbidden
	}
	m, err := r.VerifyTenantAccess(ctx, tenantID, userID)
	if err != nil {
		return m, err
	}
	if m.Role != models.RoleOwner {
		return m, denied
	}
	return m, nil
}

// WithReader returns a Resolver reading through rd, typically a transaction.
func (r *Resolver) WithReader(rd Reader) *Resolver {
	return &Resolver{store: rd}
}
