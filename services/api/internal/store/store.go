package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"navio/services/api/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence seam used by the services.
type Store interface {
	Queries
	Analytics

	// WithTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the same operations as Store, scoped to a transaction.
type Tx interface {
	Queries
}

// Queries are the row-level operations available inside and outside a transaction.
type Queries interface {
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error

	GetSessionByTokenHash(ctx context.Context, hash string) (models.Session, error)
	CreateSession(ctx context.Context, s *models.Session) error

	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (models.Tenant, error)
	UpdateTenantName(ctx context.Context, id uuid.UUID, name string) error
	DeleteTenant(ctx context.Context, id uuid.UUID) error
	ListTenantsForUser(ctx context.Context, userID uuid.UUID) ([]TenantWithRole, error)

	CreateMembership(ctx context.Context, m *models.TenantMembership) error
	GetMembership(ctx context.Context, tenantID, userID uuid.UUID) (models.TenantMembership, error)
	GetMembershipByID(ctx context.Context, id uuid.UUID) (models.TenantMembership, error)
	FirstMembership(ctx context.Context, userID uuid.UUID) (models.TenantMembership, error)
	ListMembers(ctx context.Context, tenantID uuid.UUID) ([]Member, error)
	UpdateMembershipRole(ctx context.Context, id uuid.UUID, role models.Role) error
	DeleteMembership(ctx context.Context, id uuid.UUID) error
	CountOwners(ctx context.Context, tenantID uuid.UUID) (int64, error)

	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, id uuid.UUID) (models.Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (models.Invitation, error)
	FindPendingInvitation(ctx context.Context, tenantID uuid.UUID, email string) (models.Invitation, error)
	ListInvitations(ctx context.Context, tenantID uuid.UUID, status models.InvitationStatus) ([]models.Invitation, error)
	SaveInvitation(ctx context.Context, inv *models.Invitation) error
	DeleteInvitation(ctx context.Context, id uuid.UUID) error

	CreateFlow(ctx context.Context, f *models.Flow) error
	GetFlow(ctx context.Context, id uuid.UUID) (models.Flow, error)
	SaveFlow(ctx context.Context, f *models.Flow) error
	DeleteFlow(ctx context.Context, id uuid.UUID) error
	ListFlows(ctx context.Context, filter FlowFilter) ([]models.Flow, int64, error)
	CountFlows(ctx context.Context, tenantID uuid.UUID) (int64, error)

	CreateStep(ctx context.Context, s *models.FlowStep) error
	GetStep(ctx context.Context, id uuid.UUID) (models.FlowStep, error)
	ListSteps(ctx context.Context, flowID uuid.UUID) ([]models.FlowStep, error)
	FirstSteps(ctx context.Context, flowIDs []uuid.UUID) (map[uuid.UUID]models.FlowStep, error)
	CountSteps(ctx context.Context, flowIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	SaveStep(ctx context.Context, s *models.FlowStep) error
	SetStepScreenshots(ctx context.Context, stepID uuid.UUID, thumb, full *string) error
	SetStepOrders(ctx context.Context, flowID uuid.UUID, orders map[uuid.UUID]int) error
	DeleteStep(ctx context.Context, id uuid.UUID) error

	CreateShare(ctx context.Context, s *models.FlowShare) error
	GetShare(ctx context.Context, id uuid.UUID) (models.FlowShare, error)
	GetShareByFlow(ctx context.Context, flowID uuid.UUID) (models.FlowShare, error)
	GetShareByToken(ctx context.Context, token string) (models.FlowShare, error)
	RegenerateShare(ctx context.Context, id uuid.UUID, token string) error
	IncrementShareViews(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteShareByFlow(ctx context.Context, flowID uuid.UUID) error
	CountShares(ctx context.Context, tenantID uuid.UUID) (int64, error)

	CreateEvent(ctx context.Context, e *models.AnalyticsEvent) error
}

// Analytics are the aggregate reads over analytics events.
type Analytics interface {
	FlowEventStats(ctx context.Context, flowID uuid.UUID) (EventStats, error)
	TenantEventStats(ctx context.Context, tenantID uuid.UUID) (EventStats, error)
	TopFlows(ctx context.Context, tenantID uuid.UUID, limit int) ([]FlowStats, error)
	DailyStats(ctx context.Context, scope Scope, since time.Time) ([]DailyStat, error)
	StepStats(ctx context.Context, flowID uuid.UUID) ([]StepStat, error)
}

// TenantWithRole is a tenant together with the caller's role in it.
type TenantWithRole struct {
	models.Tenant
	Role        models.Role `json:"role"`
	MemberCount int64       `json:"memberCount"`
}

// Member is a membership joined with its user.
type Member struct {
	models.TenantMembership
	Email string `json:"email"`
	Name  string `json:"name"`
}

// FlowFilter narrows ListFlows. Limit <= 0 means no limit.
type FlowFilter struct {
	TenantID uuid.UUID
	Search   string
	Tags     []string
	Limit    int
	Offset   int
}

// EventStats are raw counts over a set of events. Viewers and Completers
// count distinct session ids.
type EventStats struct {
	Views       int64 `db:"views"`
	Completions int64 `db:"completions"`
	Viewers     int64 `db:"viewers"`
	Completers  int64 `db:"completers"`
}

// FlowStats are EventStats for one flow of a tenant.
type FlowStats struct {
	FlowID uuid.UUID `db:"flow_id"`
	Name   string    `db:"name"`
	EventStats
}

// Scope selects either a whole tenant or one flow.
type Scope struct {
	TenantID uuid.UUID
	FlowID   uuid.UUID
}

// DailyStat are per UTC day counts. Days without events are omitted.
type DailyStat struct {
	Day        time.Time `db:"day"`
	Views      int64     `db:"views"`
	Viewers    int64     `db:"viewers"`
	Completers int64     `db:"completers"`
}

// StepStat are STEP_VIEW counts for one step. Completers counts step viewers
// whose session also completed the flow.
type StepStat struct {
	StepID     uuid.UUID `db:"step_id"`
	Views      int64     `db:"views"`
	Viewers    int64     `db:"viewers"`
	Completers int64     `db:"completers"`
}
