package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tokens"
)

type ctxKey int

const principalKey ctxKey = iota

// principal is the signed-in user behind a request.
type principal struct {
	User    models.User
	Session models.Session
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey).(principal)
	return p, ok
}

func sessionToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(SessionHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// authenticate resolves the session behind r. A missing, unknown, expired or
// revoked session is UNAUTHORIZED.
func (a *API) authenticate(r *http.Request) (principal, error) {
	raw := sessionToken(r)
	if raw == "" {
		return principal{}, apperr.ErrUnauthorized
	}
	sess, err := a.store.GetSessionByTokenHash(r.Context(), tokens.Fingerprint(raw))
	if errors.Is(err, store.ErrNotFound) {
		return principal{}, apperr.ErrUnauthorized
	}
	if err != nil {
		return principal{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Active(a.now()) {
		return principal{}, apperr.ErrUnauthorized.WithMessage("Session expired")
	}
	user, err := a.store.GetUser(r.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return principal{}, apperr.ErrUnauthorized
	}
	if err != nil {
		return principal{}, fmt.Errorf("load user: %w", err)
	}
	return principal{User: user, Session: sess}, nil
}

func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// optionalSession attaches the principal when the request carries a valid
// session and passes the request through unchanged otherwise.
func (a *API) optionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := a.authenticate(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), principalKey, p))
		}
		next.ServeHTTP(w, r)
	})
}

// userID is the signed-in user's id, or uuid.Nil.
func userID(r *http.Request) uuid.UUID {
	p, _ := principalFrom(r.Context())
	return p.User.ID
}

// activeTenant picks the tenant the request acts on: the tenant header, then
// the tenant cookie, then the session's stored tenant, then the user's first
// membership.
func (a *API) activeTenant(r *http.Request) (models.TenantMembership, error) {
	p, ok := principalFrom(r.Context())
	if !ok {
		return models.TenantMembership{}, apperr.ErrUnauthorized
	}
	var preferred []uuid.UUID
	if id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(TenantHeader))); err == nil {
		preferred = append(preferred, id)
	}
	if c, err := r.Cookie(TenantCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			preferred = append(preferred, id)
		}
	}
	if p.Session.ActiveTenantID != nil {
		preferred = append(preferred, *p.Session.ActiveTenantID)
	}
	return a.tenancy.ActiveTenant(r.Context(), p.User.ID, preferred...)
}
