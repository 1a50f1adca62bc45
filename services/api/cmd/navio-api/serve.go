package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"navio/pkg/bus"
	"navio/pkg/cache"
	"navio/pkg/db"
	"navio/pkg/ratelimit"
	"navio/pkg/render"
	gos3 "navio/pkg/s3"
	"navio/pkg/telemetry"
	"navio/services/api/internal/analytics"
	"navio/services/api/internal/config"
	"navio/services/api/internal/events"
	"navio/services/api/internal/flows"
	"navio/services/api/internal/handlers"
	"navio/services/api/internal/mailer"
	"navio/services/api/internal/sharing"
	"navio/services/api/internal/storage"
	"navio/services/api/internal/store"
	"navio/services/api/internal/tenancy"
	"navio/services/api/internal/tokens"
)

const eventLimiterPrefix = "navio:ratelimit:events:"

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := newLogger(cfg)
			if migrate {
				if err := db.Migrate(ctx, cfg.DBDSN, "up"); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	handle, err := db.Connect(ctx, cfg.DBDSN, logger.Warn)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()
	st, err := store.NewGorm(handle.ORM, handle.Pool)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	shots, err := newScreenshots(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}

	var (
		overviewCache cache.Cache
		limiter       ratelimit.Limiter = ratelimit.NewWindow(cfg.PublicEventRateLimit, cfg.PublicEventRateWindow)
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if overviewCache, err = cache.NewRedis(rdb); err != nil {
			return err
		}
		if limiter, err = ratelimit.NewRedis(rdb, eventLimiterPrefix, cfg.PublicEventRateLimit, cfg.PublicEventRateWindow); err != nil {
			return err
		}
		log.Info().Msg("redis cache and rate limiter enabled")
	}

	analyticsSvc, err := analytics.New(analytics.Options{
		Store:    st,
		Cache:    overviewCache,
		CacheTTL: cfg.AnalyticsCacheTTL,
		Logger:   log.With().Str("component", "analytics").Logger(),
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	notifier, stopEvents, err := newNotifier(ctx, cfg, log, analyticsSvc)
	if err != nil {
		return err
	}
	defer stopEvents()

	flowSvc, err := flows.New(flows.Options{
		Store:     st,
		Storage:   shots,
		Notifier:  notifier,
		Logger:    log.With().Str("component", "flows").Logger(),
		Metrics:   metrics,
		TxTimeout: cfg.FlowTxTimeout,
	})
	if err != nil {
		return err
	}
	shareSvc, err := sharing.New(sharing.Options{
		Store:           st,
		Logger:          log.With().Str("component", "sharing").Logger(),
		Metrics:         metrics,
		TxTimeout:       cfg.FlowTxTimeout,
		PublicTxTimeout: cfg.PublicTxTimeout,
	})
	if err != nil {
		return err
	}
	mail, err := newMailer(cfg, log)
	if err != nil {
		return err
	}
	tenancySvc, err := tenancy.New(tenancy.Options{
		Store:         st,
		Mailer:        mail,
		Logger:        log.With().Str("component", "tenancy").Logger(),
		InvitationTTL: cfg.InvitationTTL,
		TxTimeout:     cfg.FlowTxTimeout,
	})
	if err != nil {
		return err
	}
	issuer, err := tokens.NewIssuer(cfg.AuthSecret, cfg.ExtensionTokenTTL)
	if err != nil {
		return err
	}

	api, err := handlers.New(handlers.Options{
		Store:            st,
		Flows:            flowSvc,
		Sharing:          shareSvc,
		Analytics:        analyticsSvc,
		Tenancy:          tenancySvc,
		Storage:          shots,
		Tokens:           issuer,
		EventLimiter:     limiter,
		Metrics:          metrics,
		Gatherer:         reg,
		Logger:           log,
		ServiceName:      serviceName,
		AllowedOrigins:   cfg.AllowedOrigins,
		GlobalRateLimit:  cfg.GlobalRateLimit,
		AppBaseURL:       cfg.AppBaseURL,
		ImageRedirectTTL: cfg.ImageRedirectTTL,
		Ready: func(ctx context.Context) error {
			return db.Ping(ctx, handle.Pool)
		},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("starting navio-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown server")
		}
		return nil
	})
	return g.Wait()
}

// newScreenshots connects object storage when credentials are present. Without
// them the API still serves, and flows ingest without screenshots.
func newScreenshots(ctx context.Context, cfg config.Config, log zerolog.Logger, metrics *telemetry.Metrics) (*storage.Screenshots, error) {
	opts := storage.Options{
		BucketName: cfg.R2Bucket,
		CDNDomain:  cfg.R2CDNDomain,
		Attempts:   cfg.UploadAttempts,
		Backoff:    cfg.UploadBackoff,
		Logger:     log.With().Str("component", "storage").Logger(),
		Metrics:    metrics,
	}
	if !cfg.StorageConfigured() {
		log.Warn().Msg("object storage is not configured, screenshots are disabled")
		return storage.New(opts), nil
	}

	endpoint := cfg.S3Endpoint
	if endpoint == "" {
		endpoint = gos3.R2Endpoint(cfg.R2AccountID)
	}
	client, err := gos3.NewClient(ctx, gos3.Options{
		Endpoint:       endpoint,
		Region:         cfg.S3Region,
		AccessKey:      cfg.R2AccessKeyID,
		SecretKey:      cfg.R2SecretKey,
		ForcePathStyle: true,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	opts.Bucket = client
	opts.Endpoint = client.Endpoint()
	return storage.New(opts), nil
}

// newNotifier publishes flow changes on NATS when NATS_URL is set and
// consumes them to invalidate cached overviews. Otherwise invalidation
// happens in-process.
func newNotifier(ctx context.Context, cfg config.Config, log zerolog.Logger, svc *analytics.Service) (events.Notifier, func(), error) {
	if cfg.NATSURL == "" {
		n, err := events.NewDirectNotifier(svc)
		return n, func() {}, err
	}

	b, err := bus.New(cfg.NATSURL, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	if err := b.EnsureStream(events.StreamName, events.SubjectAll); err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("ensure stream: %w", err)
	}
	inv, err := events.NewInvalidator(svc, log.With().Str("component", "invalidator").Logger())
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	sub, err := inv.Start(ctx, b)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("subscribe flow changes: %w", err)
	}
	n, err := events.NewBusNotifier(b)
	if err != nil {
		_ = sub.Close()
		b.Close()
		return nil, nil, err
	}
	log.Info().Str("stream", events.StreamName).Msg("flow change events enabled")
	return n, func() {
		_ = sub.Close()
		b.Close()
	}, nil
}

func newMailer(cfg config.Config, log zerolog.Logger) (*mailer.Mailer, error) {
	engine, err := render.New()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	deliver := mailer.LogDelivery(log.With().Str("component", "mailer").Logger())
	if cfg.SMTPHost != "" {
		deliver = mailer.SMTPDelivery(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		})
	}
	return mailer.New(engine, cfg.AppBaseURL, cfg.EmailFrom, deliver)
}
