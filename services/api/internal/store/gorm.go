package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"navio/services/api/internal/models"
)

// Gorm is the Postgres implementation of Store. CRUD goes through gorm while
// aggregate reads use the pgx pool directly.
type Gorm struct {
	queries
	pool *pgxpool.Pool
}

// NewGorm wraps an open gorm session and the pool it was built from.
func NewGorm(orm *gorm.DB, pool *pgxpool.Pool) (*Gorm, error) {
	if orm == nil {
		return nil, errors.New("gorm db is required")
	}
	if pool == nil {
		return nil, errors.New("pgx pool is required")
	}
	return &Gorm{queries: queries{db: orm}, pool: pool}, nil
}

// WithTx runs fn inside a gorm transaction bound to ctx.
func (g *Gorm) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, queries{db: tx})
	})
}

type queries struct {
	db *gorm.DB
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return err
	}
}

func (q queries) first(ctx context.Context, dest any, query string, args ...any) error {
	return translate(q.db.WithContext(ctx).Where(query, args...).Take(dest).Error)
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	var u models.User
	err := q.first(ctx, &u, "id = ?", id)
	return u, err
}

func (q queries) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := q.first(ctx, &u, "lower(email) = ?", strings.ToLower(email))
	return u, err
}

func (q queries) UpsertUser(ctx context.Context, u *models.User) error {
	return translate(q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(u).Error)
}

func (q queries) GetSessionByTokenHash(ctx context.Context, hash string) (models.Session, error) {
	var s models.Session
	err := q.first(ctx, &s, "token_hash = ?", hash)
	return s, err
}

func (q queries) CreateSession(ctx context.Context, s *models.Session) error {
	return translate(q.db.WithContext(ctx).Create(s).Error)
}

func (q queries) CreateTenant(ctx context.Context, t *models.Tenant) error {
	return translate(q.db.WithContext(ctx).Create(t).Error)
}

func (q queries) GetTenant(ctx context.Context, id uuid.UUID) (models.Tenant, error) {
	var t models.Tenant
	err := q.first(ctx, &t, "id = ?", id)
	return t, err
}

func (q queries) UpdateTenantName(ctx context.Context, id uuid.UUID, name string) error {
	return affected(q.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": time.Now()}))
}

func (q queries) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	return affected(q.db.WithContext(ctx).Delete(&models.Tenant{}, "id = ?", id))
}

func (q queries) ListTenantsForUser(ctx context.Context, userID uuid.UUID) ([]TenantWithRole, error) {
	var out []TenantWithRole
	err := q.db.WithContext(ctx).Raw(`
		SELECT t.*, m.role,
			(SELECT COUNT(*) FROM tenant_memberships mc WHERE mc.tenant_id = t.id) AS member_count
		FROM tenants t
		JOIN tenant_memberships m ON m.tenant_id = t.id
		WHERE m.user_id = ?
		ORDER BY m.created_at ASC`, userID).Scan(&out).Error
	return out, translate(err)
}

func (q queries) CreateMembership(ctx context.Context, m *models.TenantMembership) error {
	return translate(q.db.WithContext(ctx).Create(m).Error)
}

func (q queries) GetMembership(ctx context.Context, tenantID, userID uuid.UUID) (models.TenantMembership, error) {
	var m models.TenantMembership
	err := q.first(ctx, &m, "tenant_id = ? AND user_id = ?", tenantID, userID)
	return m, err
}

func (q queries) GetMembershipByID(ctx context.Context, id uuid.UUID) (models.TenantMembership, error) {
	var m models.TenantMembership
	err := q.first(ctx, &m, "id = ?", id)
	return m, err
}

func (q queries) FirstMembership(ctx context.Context, userID uuid.UUID) (models.TenantMembership, error) {
	var m models.TenantMembership
	err := q.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Order("id ASC").Take(&m).Error
	return m, translate(err)
}

func (q queries) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]Member, error) {
	var out []Member
	err := q.db.WithContext(ctx).Raw(`
		SELECT m.*, u.email, u.name
		FROM tenant_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.tenant_id = ?
		ORDER BY m.created_at ASC`, tenantID).Scan(&out).Error
	return out, translate(err)
}

func (q queries) UpdateMembershipRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	return affected(q.db.WithContext(ctx).Model(&models.TenantMembership{}).Where("id = ?", id).
		Updates(map[string]any{"role": role, "updated_at": time.Now()}))
}

func (q queries) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	return affected(q.db.WithContext(ctx).Delete(&models.TenantMembership{}, "id = ?", id))
}

// CountOwners locks the tenant's owner rows, so inside a transaction two
// concurrent demotions cannot both see a second owner.
func (q queries) CountOwners(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var ids []uuid.UUID
	err := q.db.WithContext(ctx).Model(&models.TenantMembership{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND role = ?", tenantID, models.RoleOwner).
		Pluck("id", &ids).Error
	return int64(len(ids)), translate(err)
}

func (q queries) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	return translate(q.db.WithContext(ctx).Create(inv).Error)
}

func (q queries) GetInvitation(ctx context.Context, id uuid.UUID) (models.Invitation, error) {
	var inv models.Invitation
	err := q.first(ctx, &inv, "id = ?", id)
	return inv, err
}

func (q queries) GetInvitationByToken(ctx context.Context, token string) (models.Invitation, error) {
	var inv models.Invitation
	err := q.first(ctx, &inv, "token = ?", token)
	return inv, err
}

func (q queries) FindPendingInvitation(ctx context.Context, tenantID uuid.UUID, email string) (models.Invitation, error) {
	var inv models.Invitation
	err := q.first(ctx, &inv, "tenant_id = ? AND lower(email) = ? AND status = ?",
		tenantID, strings.ToLower(email), models.InvitationPending)
	return inv, err
}

func (q queries) ListInvitations(ctx context.Context, tenantID uuid.UUID, status models.InvitationStatus) ([]models.Invitation, error) {
	var out []models.Invitation
	db := q.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	err := db.Order("created_at DESC").Find(&out).Error
	return out, translate(err)
}

func (q queries) SaveInvitation(ctx context.Context, inv *models.Invitation) error {
	return affected(q.db.WithContext(ctx).Model(&models.Invitation{}).Where("id = ?", inv.ID).
		Updates(map[string]any{
			"role":       inv.Role,
			"token":      inv.Token,
			"status":     inv.Status,
			"expires_at": inv.ExpiresAt,
			"updated_at": time.Now(),
		}))
}

func (q queries) DeleteInvitation(ctx context.Context, id uuid.UUID) error {
	return affected(q.db.WithContext(ctx).Delete(&models.Invitation{}, "id = ?", id))
}

func (q queries) CreateFlow(ctx context.Context, f *models.Flow) error {
	return translate(q.db.WithContext(ctx).Create(f).Error)
}

func (q queries) GetFlow(ctx context.Context, id uuid.UUID) (models.Flow, error) {
	var f models.Flow
	err := q.first(ctx, &f, "id = ?", id)
	return f, err
}

func (q queries) SaveFlow(ctx context.Context, f *models.Flow) error {
	return affected(q.db.WithContext(ctx).Model(&models.Flow{}).Where("id = ?", f.ID).
		Updates(map[string]any{"name": f.Name, "meta": f.Meta, "updated_at": time.Now()}))
}

func (q queries) DeleteFlow(ctx context.Context, id uuid.UUID) error {
	return affected(q.db.WithContext(ctx).Delete(&models.Flow{}, "id = ?", id))
}

func (q queries) flowScope(ctx context.Context, filter FlowFilter) (*gorm.DB, error) {
	db := q.db.WithContext(ctx).Model(&models.Flow{}).Where("tenant_id = ?", filter.TenantID)
	if s := strings.TrimSpace(filter.Search); s != "" {
		db = db.Where("name ILIKE ?", "%"+escapeLike(s)+"%")
	}
	if len(filter.Tags) > 0 {
		tags, err := json.Marshal(filter.Tags)
		if err != nil {
			return nil, err
		}
		db = db.Where("meta->'tags' @> ?::jsonb", string(tags))
	}
	return db, nil
}

func (q queries) ListFlows(ctx context.Context, filter FlowFilter) ([]models.Flow, int64, error) {
	db, err := q.flowScope(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	db, _ = q.flowScope(ctx, filter)
	db = db.Order("created_at DESC").Order("id ASC").Offset(filter.Offset)
	if filter.Limit > 0 {
		db = db.Limit(filter.Limit)
	}

	var flows []models.Flow
	if err := db.Find(&flows).Error; err != nil {
		return nil, 0, translate(err)
	}
	return flows, total, nil
}

func (q queries) CountFlows(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.Flow{}).Where("tenant_id = ?", tenantID).Count(&n).Error
	return n, translate(err)
}

func (q queries) CreateStep(ctx context.Context, s *models.FlowStep) error {
	return translate(q.db.WithContext(ctx).Create(s).Error)
}

func (q queries) GetStep(ctx context.Context, id uuid.UUID) (models.FlowStep, error) {
	var s models.FlowStep
	err := q.first(ctx, &s, "id = ?", id)
	return s, err
}

func (q queries) ListSteps(ctx context.Context, flowID uuid.UUID) ([]models.FlowStep, error) {
	var steps []models.FlowStep
	err := q.db.WithContext(ctx).Where("flow_id = ?", flowID).Order(`"order" ASC`).Find(&steps).Error
	return steps, translate(err)
}

func (q queries) FirstSteps(ctx context.Context, flowIDs []uuid.UUID) (map[uuid.UUID]models.FlowStep, error) {
	out := make(map[uuid.UUID]models.FlowStep, len(flowIDs))
	if len(flowIDs) == 0 {
		return out, nil
	}
	var steps []models.FlowStep
	err := q.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (flow_id) *
		FROM flow_steps
		WHERE flow_id IN ?
		ORDER BY flow_id, "order" ASC`, flowIDs).Scan(&steps).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, s := range steps {
		out[s.FlowID] = s
	}
	return out, nil
}

func (q queries) CountSteps(ctx context.Context, flowIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(flowIDs))
	if len(flowIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		FlowID uuid.UUID
		N      int64
	}
	err := q.db.WithContext(ctx).Model(&models.FlowStep{}).
		Select("flow_id, COUNT(*) AS n").
		Where("flow_id IN ?", flowIDs).
		Group("flow_id").Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, r := range rows {
		out[r.FlowID] = r.N
	}
	return out, nil
}

func (q queries) SaveStep(ctx context.Context, s *models.FlowStep) error {
	return affected(q.db.WithContext(ctx).Model(&models.FlowStep{}).Where("id = ?", s.ID).
		Updates(map[string]any{
			"explanation": s.Explanation,
			"order":       s.Order,
			"meta":        s.Meta,
			"updated_at":  time.Now(),
		}))
}

func (q queries) SetStepScreenshots(ctx context.Context, stepID uuid.UUID, thumb, full *string) error {
	updates := map[string]any{"updated_at": time.Now()}
	if thumb != nil {
		updates["screenshot_thumb_url"] = *thumb
	}
	if full != nil {
		updates["screenshot_full_url"] = *full
	}
	return affected(q.db.WithContext(ctx).Model(&models.FlowStep{}).Where("id = ?", stepID).Updates(updates))
}

// SetStepOrders moves every step of the flow to a negative order first so the
// final assignment never collides with the unique (flow_id, order) index.
func (q queries) SetStepOrders(ctx context.Context, flowID uuid.UUID, orders map[uuid.UUID]int) error {
	db := q.db.WithContext(ctx)
	if err := db.Exec(`UPDATE flow_steps SET "order" = -"order" - 1 WHERE flow_id = ?`, flowID).Error; err != nil {
		return translate(err)
	}
	for id, order := range orders {
		res := db.Model(&models.FlowStep{}).Where("id = ? AND flow_id = ?", id, flowID).
			Updates(map[string]any{"order": order, "updated_at": time.Now()})
		if err := affected(res); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) DeleteStep(ctx context.Context, id uuid.UUID) error {
	return affected(q.db.WithContext(ctx).Delete(&models.FlowStep{}, "id = ?", id))
}

func (q queries) CreateShare(ctx context.Context, s *models.FlowShare) error {
	return translate(q.db.WithContext(ctx).Create(s).Error)
}

func (q queries) GetShare(ctx context.Context, id uuid.UUID) (models.FlowShare, error) {
	var s models.FlowShare
	err := q.first(ctx, &s, "id = ?", id)
	return s, err
}

func (q queries) GetShareByFlow(ctx context.Context, flowID uuid.UUID) (models.FlowShare, error) {
	var s models.FlowShare
	err := q.first(ctx, &s, "flow_id = ?", flowID)
	return s, err
}

func (q queries) GetShareByToken(ctx context.Context, token string) (models.FlowShare, error) {
	var s models.FlowShare
	err := q.first(ctx, &s, "share_token = ?", token)
	return s, err
}

func (q queries) RegenerateShare(ctx context.Context, id uuid.UUID, token string) error {
	return affected(q.db.WithContext(ctx).Model(&models.FlowShare{}).Where("id = ?", id).
		Updates(map[string]any{"share_token": token, "view_count": 0, "updated_at": time.Now()}))
}

// IncrementShareViews bumps the counter with a single UPDATE so concurrent
// viewers never lose an increment.
func (q queries) IncrementShareViews(ctx context.Context, id uuid.UUID) (int64, error) {
	share := models.FlowShare{ID: id}
	res := q.db.WithContext(ctx).Model(&share).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "view_count"}}}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	if err := affected(res); err != nil {
		return 0, err
	}
	return share.ViewCount, nil
}

func (q queries) DeleteShareByFlow(ctx context.Context, flowID uuid.UUID) error {
	return translate(q.db.WithContext(ctx).Delete(&models.FlowShare{}, "flow_id = ?", flowID).Error)
}

func (q queries) CountShares(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&models.FlowShare{}).
		Joins("JOIN flows ON flows.id = flow_shares.flow_id").
		Where("flows.tenant_id = ?", tenantID).Count(&n).Error
	return n, translate(err)
}

func (q queries) CreateEvent(ctx context.Context, e *models.AnalyticsEvent) error {
	return translate(q.db.WithContext(ctx).Create(e).Error)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
