// Package handlers exposes the Navio services over HTTP.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"navio/pkg/ratelimit"
	"navio/pkg/telemetry"
	"navio/services/api/internal/analytics"
	"navio/services/api/internal/authz"
	"navio/services/api/internal/flows"
	"navio/services/api/internal/sharing"
	"navio/services/api/internal/storage"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tenancy"
	"navio/services/api/internal/tokens"
)

const (
	SessionCookie      = "navio_session"
	SessionHeader      = "X-Navio-Session"
	TenantCookie       = "active-tenant-id"
	TenantHeader       = "X-Navio-Tenant"
	defaultServiceName = "navio-api"

	maxBodyBytes   = 1 << 20
	maxIngestBytes = 32 << 20
)

// Options wires an API. Every service is required; the rest have defaults.
type Options struct {
	Store     store.Store
	Flows     *flows.Service
	Sharing   *sharing.Service
	Analytics *analytics.Service
	Tenancy   *tenancy.Service
	Storage   *storage.Screenshots
	Tokens    *tokens.Issuer

	// EventLimiter guards the public analytics endpoint per client IP.
	EventLimiter ratelimit.Limiter
	Metrics      *telemetry.Metrics
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger

	ServiceName      string
	AllowedOrigins   []string
	GlobalRateLimit  int
	AppBaseURL       string
	ImageRedirectTTL time.Duration

	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

// API holds the HTTP handlers.
type API struct {
	store     store.Store
	resolver  *authz.Resolver
	flows     *flows.Service
	sharing   *sharing.Service
	analytics *analytics.Service
	tenancy   *tenancy.Service
	storage   *storage.Screenshots
	tokens    *tokens.Issuer
	limiter   ratelimit.Limiter
	metrics   *telemetry.Metrics
	log       zerolog.Logger
	opts      Options
	now       func() time.Time
}

func New(opts Options) (*API, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("store is required")
	case opts.Flows == nil:
		return nil, errors.New("flows service is required")
	case opts.Sharing == nil:
		return nil, errors.New("sharing service is required")
	case opts.Analytics == nil:
		return nil, errors.New("analytics service is required")
	case opts.Tenancy == nil:
		return nil, errors.New("tenancy service is required")
	case opts.Storage == nil:
		return nil, errors.New("storage is required")
	case opts.Tokens == nil:
		return nil, errors.New("token issuer is required")
	}
	resolver, err := authz.NewResolver(opts.Store)
	if err != nil {
		return nil, err
	}
	if opts.EventLimiter == nil {
		opts.EventLimiter = ratelimit.NewWindow(100, time.Minute)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = defaultServiceName
	}
	return &API{
		store:     opts.Store,
		resolver:  resolver,
		flows:     opts.Flows,
		sharing:   opts.Sharing,
		analytics: opts.Analytics,
		tenancy:   opts.Tenancy,
		storage:   opts.Storage,
		tokens:    opts.Tokens,
		limiter:   opts.EventLimiter,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		opts:      opts,
		now:       time.Now,
	}, nil
}
