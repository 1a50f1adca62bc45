package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"navio/pkg/telemetry"
)

// Router builds the HTTP router with probes, metrics and every API route.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware(a.opts.ServiceName, a.log, a.metrics))

	allowed := a.opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SessionHeader, TenantHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	if a.opts.GlobalRateLimit > 0 {
		r.Use(httprate.LimitByIP(a.opts.GlobalRateLimit, time.Minute))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)

	if a.opts.Gatherer != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(a.opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Method("GET", "/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/public/analytics/event", a.handlePublicEvent)
		r.Get("/public/shares/{token}", a.handlePublicShare)

		r.Post("/extension/v1/flows", a.handleExtensionCreateFlow)

		r.Get("/invitations/token/{token}", a.handleInvitationByToken)
		r.Post("/invitations/token/{token}/decline", a.handleDeclineInvitation)
		r.With(a.optionalSession).Post("/invitations/token/{token}/accept", a.handleAcceptInvitation)

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)

			r.Post("/extension/token", a.handleExtensionToken)
			r.Get("/images/*", a.handleImage)

			r.Get("/flows", a.handleListFlows)
			r.Post("/flows", a.handleCreateFlow)
			r.Route("/flows/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetFlow)
				r.Patch("/", a.handleUpdateFlow)
				r.Delete("/", a.handleDeleteFlow)

				r.Post("/steps", a.handleAddStep)
				r.Put("/steps/order", a.handleReorderSteps)
				r.Patch("/steps/{stepId}", a.handleUpdateStep)
				r.Delete("/steps/{stepId}", a.handleDeleteStep)

				r.Get("/share", a.handleGetShare)
				r.Post("/share", a.handleRegenerateShare)
				r.Delete("/share", a.handleDeleteShare)
			})

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/overview", a.handleOverview)
				r.Get("/users-engagement-over-time", a.handleUsersEngagementOverTime)
				r.Get("/views-over-time", a.handleViewsOverTime)
				r.Get("/flows/{id}", a.handleFlowAnalytics)
				r.Get("/flows/{id}/over-time", a.handleFlowOverTime)
				r.Get("/flows/{id}/steps", a.handleStepAnalytics)
			})

			r.Get("/tenants", a.handleListTenants)
			r.Post("/tenants", a.handleCreateTenant)
			r.Route("/tenants/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetTenant)
				r.Patch("/", a.handleUpdateTenant)
				r.Delete("/", a.handleDeleteTenant)
				r.Post("/leave", a.handleLeaveTenant)
				r.Post("/switch", a.handleSwitchTenant)
				r.Get("/members", a.handleListMembers)
				r.Get("/invitations", a.handleListInvitations)
				r.Post("/invitations", a.handleInvite)
			})

			r.Patch("/memberships/{id}", a.handleUpdateRole)
			r.Delete("/memberships/{id}", a.handleRemoveMember)

			r.Delete("/invitations/{id}", a.handleCancelInvitation)
			r.Post("/invitations/{id}/resend", a.handleResendInvitation)
		})
	})

	return gzhttp.GzipHandler(r)
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.opts.Ready(ctx); err != nil {
			a.log.Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
