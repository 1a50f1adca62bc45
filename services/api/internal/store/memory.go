package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"navio/services/api/internal/models"
)

type memState struct {
	users       map[uuid.UUID]models.User
	sessions    map[uuid.UUID]models.Session
	tenants     map[uuid.UUID]models.Tenant
	memberships map[uuid.UUID]models.TenantMembership
	invitations map[uuid.UUID]models.Invitation
	flows       map[uuid.UUID]models.Flow
	steps       map[uuid.UUID]models.FlowStep
	shares      map[uuid.UUID]models.FlowShare
	events      []models.AnalyticsEvent
}

func newMemState() *memState {
	return &memState{
		users:       map[uuid.UUID]models.User{},
		sessions:    map[uuid.UUID]models.Session{},
		tenants:     map[uuid.UUID]models.Tenant{},
		memberships: map[uuid.UUID]models.TenantMembership{},
		invitations: map[uuid.UUID]models.Invitation{},
		flows:       map[uuid.UUID]models.Flow{},
		steps:       map[uuid.UUID]models.FlowStep{},
		shares:      map[uuid.UUID]models.FlowShare{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		users:       cloneMap(s.users),
		sessions:    cloneMap(s.sessions),
		tenants:     cloneMap(s.tenants),
		memberships: cloneMap(s.memberships),
		invitations: cloneMap(s.invitations),
		flows:       cloneMap(s.flows),
		steps:       cloneMap(s.steps),
		shares:      cloneMap(s.shares),
		events:      append([]models.AnalyticsEvent(nil), s.events...),
	}
}

// Memory is an in-process Store with the same constraints as the Postgres
// schema: unique keys, foreign keys and cascading deletes. Transactions are
// serialized and roll back by restoring a snapshot. Calls made outside a
// transaction wait for a running one to finish, so a rollback never drops
// their writes.
type Memory struct {
	memQueries
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	m := &Memory{}
	m.memQueries = memQueries{core: &memCore{state: newMemState(), now: time.Now}, gated: true}
	return m
}

// SetClock overrides the clock used for created/updated timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	m.core.now = now
}

// WithTx runs fn with exclusive access to the store. Any error restores the
// state captured before fn ran.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.core.tx.Lock()
	defer m.core.tx.Unlock()

	m.core.mu.Lock()
	snapshot := m.core.state.clone()
	m.core.mu.Unlock()

	err := ctx.Err()
	if err == nil {
		err = fn(ctx, memQueries{core: m.core})
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.core.mu.Lock()
		m.core.state = snapshot
		m.core.mu.Unlock()
		return err
	}
	return nil
}

type memCore struct {
	// tx is held for the whole of a transaction.
	tx    sync.Mutex
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

// memQueries is gated outside a transaction and ungated inside one.
type memQueries struct {
	core  *memCore
	gated bool
}

func (q memQueries) lock() (*memState, func()) {
	if q.gated {
		q.core.tx.Lock()
	}
	q.core.mu.Lock()
	return q.core.state, func() {
		q.core.mu.Unlock()
		if q.gated {
			q.core.tx.Unlock()
		}
	}
}

func (q memQueries) stamp() time.Time {
	return q.core.now().UTC()
}

func conflict(what string) error {
	return fmt.Errorf("%w: %s", ErrConflict, what)
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func (q memQueries) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	s, unlock := q.lock()
	defer unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (q memQueries) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	s, unlock := q.lock()
	defer unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (q memQueries) UpsertUser(_ context.Context, u *models.User) error {
	s, unlock := q.lock()
	defer unlock()
	now := q.stamp()
	for id, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			existing.Name = u.Name
			existing.UpdatedAt = now
			s.users[id] = existing
			*u = existing
			return nil
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	return nil
}

func (q memQueries) GetSessionByTokenHash(_ context.Context, hash string) (models.Session, error) {
	s, unlock := q.lock()
	defer unlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == hash {
			return sess, nil
		}
	}
	return models.Session{}, ErrNotFound
}

func (q memQueries) CreateSession(_ context.Context, sess *models.Session) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.users[sess.UserID]; !ok {
		return missing("user")
	}
	for _, other := range s.sessions {
		if other.TokenHash == sess.TokenHash {
			return conflict("session token")
		}
	}
	sess.CreatedAt = q.stamp()
	s.sessions[sess.ID] = *sess
	return nil
}

func (q memQueries) CreateTenant(_ context.Context, t *models.Tenant) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return conflict("tenant id")
	}
	now := q.stamp()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tenants[t.ID] = *t
	return nil
}

func (q memQueries) GetTenant(_ context.Context, id uuid.UUID) (models.Tenant, error) {
	s, unlock := q.lock()
	defer unlock()
	t, ok := s.tenants[id]
	if !ok {
		return models.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (q memQueries) UpdateTenantName(_ context.Context, id uuid.UUID, name string) error {
	s, unlock := q.lock()
	defer unlock()
	t, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Name = name
	t.UpdatedAt = q.stamp()
	s.tenants[id] = t
	return nil
}

func (q memQueries) DeleteTenant(_ context.Context, id uuid.UUID) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(s.tenants, id)
	for mid, m := range s.memberships {
		if m.TenantID == id {
			delete(s.memberships, mid)
		}
	}
	for iid, inv := range s.invitations {
		if inv.TenantID == id {
			delete(s.invitations, iid)
		}
	}
	for fid, f := range s.flows {
		if f.TenantID == id {
			s.deleteFlow(fid)
		}
	}
	return nil
}

func (q memQueries) ListTenantsForUser(_ context.Context, userID uuid.UUID) ([]TenantWithRole, error) {
	s, unlock := q.lock()
	defer unlock()
	mine := s.membershipsWhere(func(m models.TenantMembership) bool { return m.UserID == userID })
	out := make([]TenantWithRole, 0, len(mine))
	for _, m := range mine {
		t, ok := s.tenants[m.TenantID]
		if !ok {
			continue
		}
		count := len(s.membershipsWhere(func(o models.TenantMembership) bool { return o.TenantID == t.ID }))
		out = append(out, TenantWithRole{Tenant: t, Role: m.Role, MemberCount: int64(count)})
	}
	return out, nil
}

// membershipsWhere returns matching memberships ordered by creation time.
func (s *memState) membershipsWhere(match func(models.TenantMembership) bool) []models.TenantMembership {
	var out []models.TenantMembership
	for _, m := range s.memberships {
		if match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (q memQueries) CreateMembership(_ context.Context, m *models.TenantMembership) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.tenants[m.TenantID]; !ok {
		return missing("tenant")
	}
	if _, ok := s.users[m.UserID]; !ok {
		return missing("user")
	}
	for _, other := range s.memberships {
		if other.TenantID == m.TenantID && other.UserID == m.UserID {
			return conflict("membership")
		}
	}
	now := q.stamp()
	m.CreatedAt, m.UpdatedAt = now, now
	s.memberships[m.ID] = *m
	return nil
}

func (q memQueries) GetMembership(_ context.Context, tenantID, userID uuid.UUID) (models.TenantMembership, error) {
	s, unlock := q.lock()
	defer unlock()
	for _, m := range s.memberships {
		if m.TenantID == tenantID && m.UserID == userID {
			return m, nil
		}
	}
	return models.TenantMembership{}, ErrNotFound
}

func (q memQueries) GetMembershipByID(_ context.Context, id uuid.UUID) (models.TenantMembership, error) {
	s, unlock := q.lock()
	defer unlock()
	m, ok := s.memberships[id]
	if !ok {
		return models.TenantMembership{}, ErrNotFound
	}
	return m, nil
}

func (q memQueries) FirstMembership(_ context.Context, userID uuid.UUID) (models.TenantMembership, error) {
	s, unlock := q.lock()
	defer unlock()
	mine := s.membershipsWhere(func(m models.TenantMembership) bool { return m.UserID == userID })
	if len(mine) == 0 {
		return models.TenantMembership{}, ErrNotFound
	}
	return mine[0], nil
}

func (q memQueries) ListMembers(_ context.Context, tenantID uuid.UUID) ([]Member, error) {
	s, unlock := q.lock()
	defer unlock()
	ms := s.membershipsWhere(func(m models.TenantMembership) bool { return m.TenantID == tenantID })
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		u := s.users[m.UserID]
		out = append(out, Member{TenantMembership: m, Email: u.Email, Name: u.Name})
	}
	return out, nil
}

func (q memQueries) UpdateMembershipRole(_ context.Context, id uuid.UUID, role models.Role) error {
	s, unlock := q.lock()
	defer unlock()
	m, ok := s.memberships[id]
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	m.UpdatedAt = q.stamp()
	s.memberships[id] = m
	return nil
}

func (q memQueries) DeleteMembership(_ context.Context, id uuid.UUID) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.memberships[id]; !ok {
		return ErrNotFound
	}
	delete(s.memberships, id)
	return nil
}

func (q memQueries) CountOwners(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s, unlock := q.lock()
	defer unlock()
	var n int64
	for _, m := range s.memberships {
		if m.TenantID == tenantID && m.Role == models.RoleOwner {
			n++
		}
	}
	return n, nil
}

func (q memQueries) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.tenants[inv.TenantID]; !ok {
		return missing("tenant")
	}
	for _, other := range s.invitations {
		if other.Token == inv.Token {
			return conflict("invitation token")
		}
	}
	now := q.stamp()
	inv.CreatedAt, inv.UpdatedAt = now, now
	s.invitations[inv.ID] = *inv
	return nil
}

func (q memQueries) GetInvitation(_ context.Context, id uuid.UUID) (models.Invitation, error) {
	s, unlock := q.lock()
	defer unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return models.Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (q memQueries) GetInvitationByToken(_ context.Context, token string) (models.Invitation, error) {
	s, unlock := q.lock()
	defer unlock()
	for _, inv := range s.invitations {
		if inv.Token == token {
			return inv, nil
		}
	}
	return models.Invitation{}, ErrNotFound
}

func (q memQueries) FindPendingInvitation(_ context.Context, tenantID uuid.UUID, email string) (models.Invitation, error) {
	s, unlock := q.lock()
	defer unlock()
	for _, inv := range s.invitations {
		if inv.TenantID == tenantID && inv.Status == models.InvitationPending && strings.EqualFold(inv.Email, email) {
			return inv, nil
		}
	}
	return models.Invitation{}, ErrNotFound
}

func (q memQueries) ListInvitations(_ context.Context, tenantID uuid.UUID, status models.InvitationStatus) ([]models.Invitation, error) {
	s, unlock := q.lock()
	defer unlock()
	var out []models.Invitation
	for _, inv := range s.invitations {
		if inv.TenantID == tenantID && (status == "" || inv.Status == status) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (q memQueries) SaveInvitation(_ context.Context, inv *models.Invitation) error {
	s, unlock := q.lock()
	defer unlock()
	existing, ok := s.invitations[inv.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range s.invitations {
		if id != inv.ID && other.Token == inv.Token {
			return conflict("invitation token")
		}
	}
	existing.Role = inv.Role
	existing.Token = inv.Token
	existing.Status = inv.Status
	existing.ExpiresAt = inv.ExpiresAt
	existing.UpdatedAt = q.stamp()
	s.invitations[inv.ID] = existing
	*inv = existing
	return nil
}

func (q memQueries) DeleteInvitation(_ context.Context, id uuid.UUID) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.invitations[id]; !ok {
		return ErrNotFound
	}
	delete(s.invitations, id)
	return nil
}

func (q memQueries) CreateFlow(_ context.Context, f *models.Flow) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.tenants[f.TenantID]; !ok {
		return missing("tenant")
	}
	if _, ok := s.flows[f.ID]; ok {
		return conflict("flow id")
	}
	now := q.stamp()
	f.CreatedAt, f.UpdatedAt = now, now
	s.flows[f.ID] = *f
	return nil
}

func (q memQueries) GetFlow(_ context.Context, id uuid.UUID) (models.Flow, error) {
	s, unlock := q.lock()
	defer unlock()
	f, ok := s.flows[id]
	if !ok {
		return models.Flow{}, ErrNotFound
	}
	return f, nil
}

func (q memQueries) SaveFlow(_ context.Context, f *models.Flow) error {
	s, unlock := q.lock()
	defer unlock()
	existing, ok := s.flows[f.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = f.Name
	existing.Meta = f.Meta
	existing.UpdatedAt = q.stamp()
	s.flows[f.ID] = existing
	*f = existing
	return nil
}

func (q memQueries) DeleteFlow(_ context.Context, id uuid.UUID) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.flows[id]; !ok {
		return ErrNotFound
	}
	s.deleteFlow(id)
	return nil
}

func (s *memState) deleteFlow(id uuid.UUID) {
	delete(s.flows, id)
	for sid, st := range s.steps {
		if st.FlowID == id {
			delete(s.steps, sid)
		}
	}
	for sid, sh := range s.shares {
		if sh.FlowID == id {
			delete(s.shares, sid)
		}
	}
	kept := s.events[:0]
	for _, e := range s.events {
		if e.FlowID != id {
			kept = append(kept, e)
		}
	}
	s.events = kept
}

func (q memQueries) ListFlows(_ context.Context, filter FlowFilter) ([]models.Flow, int64, error) {
	s, unlock := q.lock()
	defer unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	var matched []models.Flow
	for _, f := range s.flows {
		if f.TenantID != filter.TenantID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(f.Name), search) {
			continue
		}
		if !containsAll(f.Meta.Data().Tags, filter.Tags) {
			continue
		}
		matched = append(matched, f)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []models.Flow{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (q memQueries) CountFlows(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s, unlock := q.lock()
	defer unlock()
	var n int64
	for _, f := range s.flows {
		if f.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (q memQueries) CreateStep(_ context.Context, st *models.FlowStep) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.flows[st.FlowID]; !ok {
		return missing("flow")
	}
	for _, other := range s.steps {
		if other.FlowID == st.FlowID && other.Order == st.Order {
			return conflict("step order")
		}
	}
	now := q.stamp()
	st.CreatedAt, st.UpdatedAt = now, now
	st.Meta = cloneJSON(st.Meta)
	s.steps[st.ID] = *st
	return nil
}

func cloneJSON(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (q memQueries) GetStep(_ context.Context, id uuid.UUID) (models.FlowStep, error) {
	s, unlock := q.lock()
	defer unlock()
	st, ok := s.steps[id]
	if !ok {
		return models.FlowStep{}, ErrNotFound
	}
	return st, nil
}

func (s *memState) stepsOf(flowID uuid.UUID) []models.FlowStep {
	var out []models.FlowStep
	for _, st := range s.steps {
		if st.FlowID == flowID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (q memQueries) ListSteps(_ context.Context, flowID uuid.UUID) ([]models.FlowStep, error) {
	s, unlock := q.lock()
	defer unlock()
	return s.stepsOf(flowID), nil
}

func (q memQueries) FirstSteps(_ context.Context, flowIDs []uuid.UUID) (map[uuid.UUID]models.FlowStep, error) {
	s, unlock := q.lock()
	defer unlock()
	out := make(map[uuid.UUID]models.FlowStep, len(flowIDs))
	for _, id := range flowIDs {
		if steps := s.stepsOf(id); len(steps) > 0 {
			out[id] = steps[0]
		}
	}
	return out, nil
}

func (q memQueries) CountSteps(_ context.Context, flowIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	s, unlock := q.lock()
	defer unlock()
	out := make(map[uuid.UUID]int64, len(flowIDs))
	for _, id := range flowIDs {
		if n := len(s.stepsOf(id)); n > 0 {
			out[id] = int64(n)
		}
	}
	return out, nil
}

func (q memQueries) SaveStep(_ context.Context, st *models.FlowStep) error {
	s, unlock := q.lock()
	defer unlock()
	existing, ok := s.steps[st.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range s.steps {
		if id != st.ID && other.FlowID == existing.FlowID && other.Order == st.Order {
			return conflict("step order")
		}
	}
	existing.Explanation = st.Explanation
	existing.Order = st.Order
	existing.Meta = cloneJSON(st.Meta)
	existing.UpdatedAt = q.stamp()
	s.steps[st.ID] = existing
	*st = existing
	return nil
}

func (q memQueries) SetStepScreenshots(_ context.Context, stepID uuid.UUID, thumb, full *string) error {
	s, unlock := q.lock()
	defer unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return ErrNotFound
	}
	if thumb != nil {
		v := *thumb
		st.ScreenshotThumbURL = &v
	}
	if full != nil {
		v := *full
		st.ScreenshotFullURL = &v
	}
	st.UpdatedAt = q.stamp()
	s.steps[stepID] = st
	return nil
}

func (q memQueries) SetStepOrders(_ context.Context, flowID uuid.UUID, orders map[uuid.UUID]int) error {
	s, unlock := q.lock()
	defer unlock()
	next := make(map[uuid.UUID]models.FlowStep)
	for id, st := range s.steps {
		if st.FlowID == flowID {
			st.Order = -st.Order - 1
			next[id] = st
		}
	}
	now := q.stamp()
	for id, order := range orders {
		st, ok := next[id]
		if !ok {
			return missing("step")
		}
		st.Order = order
		st.UpdatedAt = now
		next[id] = st
	}
	seen := make(map[int]bool, len(next))
	for _, st := range next {
		if seen[st.Order] {
			return conflict("step order")
		}
		seen[st.Order] = true
	}
	for id, st := range next {
		s.steps[id] = st
	}
	return nil
}

func (q memQueries) DeleteStep(_ context.Context, id uuid.UUID) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.steps[id]; !ok {
		return ErrNotFound
	}
	delete(s.steps, id)
	return nil
}

func (q memQueries) CreateShare(_ context.Context, sh *models.FlowShare) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.flows[sh.FlowID]; !ok {
		return missing("flow")
	}
	for _, other := range s.shares {
		if other.FlowID == sh.FlowID || other.ShareToken == sh.ShareToken {
			return conflict("share")
		}
	}
	now := q.stamp()
	sh.CreatedAt, sh.UpdatedAt = now, now
	s.shares[sh.ID] = *sh
	return nil
}

func (q memQueries) GetShare(_ context.Context, id uuid.UUID) (models.FlowShare, error) {
	s, unlock := q.lock()
	defer unlock()
	sh, ok := s.shares[id]
	if !ok {
		return models.FlowShare{}, ErrNotFound
	}
	return sh, nil
}

func (q memQueries) GetShareByFlow(_ context.Context, flowID uuid.UUID) (models.FlowShare, error) {
	s, unlock := q.lock()
	defer unlock()
	for _, sh := range s.shares {
		if sh.FlowID == flowID {
			return sh, nil
		}
	}
	return models.FlowShare{}, ErrNotFound
}

func (q memQueries) GetShareByToken(_ context.Context, token string) (models.FlowShare, error) {
	s, unlock := q.lock()
	defer unlock()
	for _, sh := range s.shares {
		if sh.ShareToken == token {
			return sh, nil
		}
	}
	return models.FlowShare{}, ErrNotFound
}

func (q memQueries) RegenerateShare(_ context.Context, id uuid.UUID, token string) error {
	s, unlock := q.lock()
	defer unlock()
	sh, ok := s.shares[id]
	if !ok {
		return ErrNotFound
	}
	for oid, other := range s.shares {
		if oid != id && other.ShareToken == token {
			return conflict("share token")
		}
	}
	sh.ShareToken = token
	sh.ViewCount = 0
	sh.UpdatedAt = q.stamp()
	s.shares[id] = sh
	return nil
}

func (q memQueries) IncrementShareViews(_ context.Context, id uuid.UUID) (int64, error) {
	s, unlock := q.lock()
	defer unlock()
	sh, ok := s.shares[id]
	if !ok {
		return 0, ErrNotFound
	}
	sh.ViewCount++
	s.shares[id] = sh
	return sh.ViewCount, nil
}

func (q memQueries) DeleteShareByFlow(_ context.Context, flowID uuid.UUID) error {
	s, unlock := q.lock()
	defer unlock()
	for id, sh := range s.shares {
		if sh.FlowID == flowID {
			delete(s.shares, id)
		}
	}
	return nil
}

func (q memQueries) CountShares(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s, unlock := q.lock()
	defer unlock()
	var n int64
	for _, sh := range s.shares {
		if f, ok := s.flows[sh.FlowID]; ok && f.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (q memQueries) CreateEvent(_ context.Context, e *models.AnalyticsEvent) error {
	s, unlock := q.lock()
	defer unlock()
	if _, ok := s.flows[e.FlowID]; !ok {
		return missing("flow")
	}
	if e.ShareID != nil {
		if _, ok := s.shares[*e.ShareID]; !ok {
			return missing("share")
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = q.stamp()
	}
	s.events = append(s.events, *e)
	return nil
}

// eventsWhere returns a copy of the events accepted by match.
func (s *memState) eventsWhere(match func(models.AnalyticsEvent) bool) []models.AnalyticsEvent {
	var out []models.AnalyticsEvent
	for _, e := range s.events {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

func statsOf(events []models.AnalyticsEvent) EventStats {
	var st EventStats
	viewers := map[string]bool{}
	completers := map[string]bool{}
	for _, e := range events {
		switch e.EventType {
		case models.EventView:
			st.Views++
			viewers[e.SessionID] = true
		case models.EventFlowComplete:
			st.Completions++
			completers[e.SessionID] = true
		}
	}
	st.Viewers = int64(len(viewers))
	st.Completers = int64(len(completers))
	return st
}

func (q memQueries) FlowEventStats(_ context.Context, flowID uuid.UUID) (EventStats, error) {
	s, unlock := q.lock()
	defer unlock()
	return statsOf(s.eventsWhere(func(e models.AnalyticsEvent) bool { return e.FlowID == flowID })), nil
}

func (s *memState) inTenant(tenantID uuid.UUID) func(models.AnalyticsEvent) bool {
	return func(e models.AnalyticsEvent) bool {
		f, ok := s.flows[e.FlowID]
		return ok && f.TenantID == tenantID
	}
}

func (q memQueries) TenantEventStats(_ context.Context, tenantID uuid.UUID) (EventStats, error) {
	s, unlock := q.lock()
	defer unlock()
	return statsOf(s.eventsWhere(s.inTenant(tenantID))), nil
}

func (q memQueries) TopFlows(_ context.Context, tenantID uuid.UUID, limit int) ([]FlowStats, error) {
	s, unlock := q.lock()
	defer unlock()
	byFlow := map[uuid.UUID][]models.AnalyticsEvent{}
	for _, e := range s.eventsWhere(s.inTenant(tenantID)) {
		byFlow[e.FlowID] = append(byFlow[e.FlowID], e)
	}
	var out []FlowStats
	for id, events := range byFlow {
		st := statsOf(events)
		if st.Views == 0 {
			continue
		}
		out = append(out, FlowStats{FlowID: id, Name: s.flows[id].Name, EventStats: st})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].FlowID.String() < out[j].FlowID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q memQueries) DailyStats(_ context.Context, scope Scope, since time.Time) ([]DailyStat, error) {
	s, unlock := q.lock()
	defer unlock()
	match := s.inTenant(scope.TenantID)
	if scope.FlowID != uuid.Nil {
		match = func(e models.AnalyticsEvent) bool { return e.FlowID == scope.FlowID }
	}
	byDay := map[time.Time][]models.AnalyticsEvent{}
	for _, e := range s.eventsWhere(match) {
		if e.Timestamp.Before(since) {
			continue
		}
		ts := e.Timestamp.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		byDay[day] = append(byDay[day], e)
	}
	out := make([]DailyStat, 0, len(byDay))
	for day, events := range byDay {
		st := statsOf(events)
		out = append(out, DailyStat{Day: day, Views: st.Views, Viewers: st.Viewers, Completers: st.Completers})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (q memQueries) StepStats(_ context.Context, flowID uuid.UUID) ([]StepStat, error) {
	s, unlock := q.lock()
	defer unlock()
	completed := map[string]bool{}
	for _, e := range s.events {
		if e.FlowID == flowID && e.EventType == models.EventFlowComplete {
			completed[e.SessionID] = true
		}
	}
	type acc struct {
		views   int64
		viewers map[string]bool
	}
	bySteps := map[uuid.UUID]*acc{}
	for _, e := range s.events {
		if e.FlowID != flowID || e.EventType != models.EventStepView || e.StepID == nil {
			continue
		}
		a, ok := bySteps[*e.StepID]
		if !ok {
			a = &acc{viewers: map[string]bool{}}
			bySteps[*e.StepID] = a
		}
		a.views++
		a.viewers[e.SessionID] = true
	}
	out := make([]StepStat, 0, len(bySteps))
	for id, a := range bySteps {
		st := StepStat{StepID: id, Views: a.views, Viewers: int64(len(a.viewers))}
		for sess := range a.viewers {
			if completed[sess] {
				st.Completers++
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// Dump returns the stored steps of a flow and whether the flow exists. It is
// meant for assertions in tests.
func (m *Memory) Dump(flowID uuid.UUID) (bool, []models.FlowStep) {
	s, unlock := m.lock()
	defer unlock()
	_, ok := s.flows[flowID]
	return ok, s.stepsOf(flowID)
}

// Counts reports how many flows and steps are stored.
func (m *Memory) Counts() (flows, steps int) {
	s, unlock := m.lock()
	defer unlock()
	return len(s.flows), len(s.steps)
}
