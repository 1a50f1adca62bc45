// Package seed loads development fixtures (users, tenants, memberships and
// optional session tokens) from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tokens"
)

const defaultSessionTTL = 30 * 24 * time.Hour

// tenantNamespace derives stable tenant ids from fixture names so re-seeding
// updates rather than duplicates.
var tenantNamespace = uuid.MustParse("6f1d4a52-8f0e-4c1e-9d0a-4e7c2b1d9a10")

// Fixtures is the YAML document accepted by Apply.
type Fixtures struct {
	Users    []User    `yaml:"users"`
	Tenants  []Tenant  `yaml:"tenants"`
	Sessions []Session `yaml:"sessions"`
}

type User struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

type Tenant struct {
	Name    string   `yaml:"name"`
	Members []Member `yaml:"members"`
}

type Member struct {
	Email string      `yaml:"email"`
	Role  models.Role `yaml:"role"`
}

// Session asks for a development session cookie for a user.
type Session struct {
	Email  string        `yaml:"email"`
	Tenant string        `yaml:"tenant"`
	TTL    time.Duration `yaml:"ttl"`
}

// IssuedSession is a minted session token. The raw token is only available
// here; the store keeps its fingerprint.
type IssuedSession struct {
	Email     string
	Token     string
	ExpiresAt time.Time
}

// Result summarises an Apply run.
type Result struct {
	Users       int
	Tenants     int
	Memberships int
	Sessions    []IssuedSession
}

// TenantID is the id a fixture tenant named name is stored under.
func TenantID(name string) uuid.UUID {
	return uuid.NewSHA1(tenantNamespace, []byte(strings.ToLower(strings.TrimSpace(name))))
}

// LoadFile reads fixtures from path.
func LoadFile(path string) (Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixtures{}, err
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates fixtures.
func Load(r io.Reader) (Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := fx.validate(); err != nil {
		return Fixtures{}, err
	}
	return fx, nil
}

func (fx *Fixtures) validate() error {
	users := map[string]bool{}
	for i := range fx.Users {
		u := &fx.Users[i]
		u.Email = strings.ToLower(strings.TrimSpace(u.Email))
		if u.Email == "" {
			return fmt.Errorf("users[%d]: email is required", i)
		}
		users[u.Email] = true
	}
	tenants := map[string]bool{}
	for i := range fx.Tenants {
		t := &fx.Tenants[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return fmt.Errorf("tenants[%d]: name is required", i)
		}
		owners := 0
		for j := range t.Members {
			m := &t.Members[j]
			m.Email = strings.ToLower(strings.TrimSpace(m.Email))
			if !users[m.Email] {
				return fmt.Errorf("tenant %q: unknown user %q", t.Name, m.Email)
			}
			role, ok := models.ParseRole(string(m.Role))
			if !ok {
				return fmt.Errorf("tenant %q: invalid role %q", t.Name, m.Role)
			}
			m.Role = role
			if role == models.RoleOwner {
				owners++
			}
		}
		if owners == 0 {
			return fmt.Errorf("tenant %q: needs at least one OWNER", t.Name)
		}
		tenants[strings.ToLower(t.Name)] = true
	}
	for i := range fx.Sessions {
		s := &fx.Sessions[i]
		s.Email = strings.ToLower(strings.TrimSpace(s.Email))
		if !users[s.Email] {
			return fmt.Errorf("sessions[%d]: unknown user %q", i, s.Email)
		}
		if s.Tenant != "" && !tenants[strings.ToLower(strings.TrimSpace(s.Tenant))] {
			return fmt.Errorf("sessions[%d]: unknown tenant %q", i, s.Tenant)
		}
	}
	return nil
}

// Apply upserts fx into st in one transaction. Existing memberships get the
// fixture's role.
func Apply(ctx context.Context, st store.Store, fx Fixtures, now time.Time) (Result, error) {
	var res Result
	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res = Result{}
		ids := map[string]uuid.UUID{}
		for _, fu := range fx.Users {
			u := models.User{ID: uuid.New(), Email: fu.Email, Name: fu.Name}
			if err := tx.UpsertUser(ctx, &u); err != nil {
				return fmt.Errorf("upsert user %s: %w", fu.Email, err)
			}
			ids[fu.Email] = u.ID
			res.Users++
		}

		for _, ft := range fx.Tenants {
			id := TenantID(ft.Name)
			if _, err := tx.GetTenant(ctx, id); errors.Is(err, store.ErrNotFound) {
				if err := tx.CreateTenant(ctx, &models.Tenant{ID: id, Name: ft.Name}); err != nil {
					return fmt.Errorf("create tenant %s: %w", ft.Name, err)
				}
			} else if err != nil {
				return fmt.Errorf("load tenant %s: %w", ft.Name, err)
			} else if err := tx.UpdateTenantName(ctx, id, ft.Name); err != nil {
				return fmt.Errorf("rename tenant %s: %w", ft.Name, err)
			}
			res.Tenants++

			for _, fm := range ft.Members {
				if err := upsertMembership(ctx, tx, id, ids[fm.Email], fm.Role); err != nil {
					return fmt.Errorf("tenant %s member %s: %w", ft.Name, fm.Email, err)
				}
				res.Memberships++
			}
		}

		for _, fs := range fx.Sessions {
			issued, err := createSession(ctx, tx, ids[fs.Email], fs, now)
			if err != nil {
				return fmt.Errorf("session for %s: %w", fs.Email, err)
			}
			issued.Email = fs.Email
			res.Sessions = append(res.Sessions, issued)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func upsertMembership(ctx context.Context, tx store.Tx, tenantID, userID uuid.UUID, role models.Role) error {
	existing, err := tx.GetMembership(ctx, tenantID, userID)
	switch {
	case err == nil:
		if existing.Role == role {
			return nil
		}
		return tx.UpdateMembershipRole(ctx, existing.ID, role)
	case errors.Is(err, store.ErrNotFound):
		return tx.CreateMembership(ctx, &models.TenantMembership{
			ID: uuid.New(), TenantID: tenantID, UserID: userID, Role: role,
		})
	default:
		return err
	}
}

func createSession(ctx context.Context, tx store.Tx, userID uuid.UUID, fs Session, now time.Time) (IssuedSession, error) {
	raw, err := tokens.Generate(tokens.Size256)
	if err != nil {
		return IssuedSession{}, err
	}
	ttl := fs.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	sess := models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokens.Fingerprint(raw),
		ExpiresAt: now.UTC().Add(ttl),
	}
	if fs.Tenant != "" {
		id := TenantID(fs.Tenant)
		sess.ActiveTenantID = &id
	}
	if err := tx.CreateSession(ctx, &sess); err != nil {
		return IssuedSession{}, err
	}
	return IssuedSession{Token: raw, ExpiresAt: sess.ExpiresAt}, nil
}
