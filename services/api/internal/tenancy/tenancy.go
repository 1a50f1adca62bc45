package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/authz"
	"navio/services/api/internal/mailer"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tokens"
)

const (
	maxTenantName        = 255
	defaultInvitationTTL = 7 * 24 * time.Hour
	defaultTxTimeout     = 10 * time.Second
)

// Options wires a Service.
type Options struct {
	Store         store.Store
	Mailer        mailer.Sender
	Logger        zerolog.Logger
	InvitationTTL time.Duration
	TxTimeout     time.Duration
}

// Service manages tenants, their members and invitations.
type Service struct {
	store         store.Store
	resolver      *authz.Resolver
	mailer        mailer.Sender
	log           zerolog.Logger
	invitationTTL time.Duration
	txTimeout     time.Duration
	now           func() time.Time
	newToken      func() (string, error)
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	resolver, err := authz.NewResolver(opts.Store)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:         opts.Store,
		resolver:      resolver,
		mailer:        opts.Mailer,
		log:           opts.Logger,
		invitationTTL: opts.InvitationTTL,
		txTimeout:     opts.TxTimeout,
		now:           time.Now,
		newToken:      func() (string, error) { return tokens.Generate(tokens.Size256) },
	}
	if s.invitationTTL <= 0 {
		s.invitationTTL = defaultInvitationTTL
	}
	if s.txTimeout <= 0 {
		s.txTimeout = defaultTxTimeout
	}
	return s, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.ErrTenantNameRequired
	}
	if utf8.RuneCountInString(name) > maxTenantName {
		return "", apperr.Validation(apperr.FieldError{
			Field:   "name",
			Message: fmt.Sprintf("must be at most %d characters", maxTenantName),
		})
	}
	return name, nil
}

// Create makes a tenant with the caller as its first OWNER.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, name string) (store.TenantWithRole, error) {
	name, err := cleanName(name)
	if err != nil {
		return store.TenantWithRole{}, err
	}
	tenant := models.Tenant{ID: uuid.New(), Name: name}
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTenant(ctx, &tenant); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		m := models.TenantMembership{ID: uuid.New(), TenantID: tenant.ID, UserID: userID, Role: models.RoleOwner}
		if err := tx.CreateMembership(ctx, &m); err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.TenantWithRole{}, err
	}
	s.log.Info().Str("tenant_id", tenant.ID.String()).Str("user_id", userID.String()).Msg("tenant created")
	return store.TenantWithRole{Tenant: tenant, Role: models.RoleOwner, MemberCount: 1}, nil
}

// ListForUser returns the caller's tenants, oldest membership first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]store.TenantWithRole, error) {
	out, err := s.store.ListTenantsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	if out == nil {
		out = []store.TenantWithRole{}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, tenantID, userID uuid.UUID) (store.TenantWithRole, error) {
	m, err := s.resolver.VerifyTenantAccess(ctx, tenantID, userID)
	if err != nil {
		return store.TenantWithRole{}, err
	}
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return store.TenantWithRole{}, apperr.ErrTenantNotFound
	}
	if err != nil {
		return store.TenantWithRole{}, fmt.Errorf("load tenant: %w", err)
	}
	members, err := s.store.ListMembers(ctx, tenantID)
	if err != nil {
		return store.TenantWithRole{}, fmt.Errorf("list members: %w", err)
	}
	return store.TenantWithRole{Tenant: tenant, Role: m.Role, MemberCount: int64(len(members))}, nil
}

// Update renames a tenant. OWNER and ADMIN only.
func (s *Service) Update(ctx context.Context, tenantID, userID uuid.UUID, name string) (models.Tenant, error) {
	if _, err := s.resolver.RequireOwnerOrAdmin(ctx, tenantID, userID, apperr.ErrTenantUpdateForbidden); err != nil {
		return models.Tenant{}, err
	}
	name, err := cleanName(name)
	if err != nil {
		return models.Tenant{}, err
	}
	if err := s.store.UpdateTenantName(ctx, tenantID, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Tenant{}, apperr.ErrTenantNotFound
		}
		return models.Tenant{}, fmt.Errorf("update tenant: %w", err)
	}
	return s.store.GetTenant(ctx, tenantID)
}

// Delete removes a tenant with everything it owns. OWNER only.
// TODO: purge the screenshots of the tenant's flows from object storage.
func (s *Service) Delete(ctx context.Context, tenantID, userID uuid.UUID) error {
	if _, err := s.resolver.RequireOwner(ctx, tenantID, userID, apperr.ErrTenantDeleteForbidden); err != nil {
		return err
	}
	if err := s.store.DeleteTenant(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrTenantNotFound
		}
		return fmt.Errorf("delete tenant: %w", err)
	}
	s.log.Info().Str("tenant_id", tenantID.String()).Str("user_id", userID.String()).Msg("tenant deleted")
	return nil
}

// ActiveTenant picks the tenant a request acts on: the first preferred tenant
// the user belongs to, else their oldest membership.
func (s *Service) ActiveTenant(ctx context.Context, userID uuid.UUID, preferred ...uuid.UUID) (models.TenantMembership, error) {
	for _, id := range preferred {
		if id == uuid.Nil {
			continue
		}
		m, err := s.store.GetMembership(ctx, id, userID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.TenantMembership{}, fmt.Errorf("load membership: %w", err)
		}
	}
	m, err := s.store.FirstMembership(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.TenantMembership{}, apperr.ErrNoActiveTenant
	}
	if err != nil {
		return models.TenantMembership{}, fmt.Errorf("first membership: %w", err)
	}
	return m, nil
}

func (s *Service) withTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return s.store.WithTx(ctx, fn)
}
