package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
	"github.com/platinummonkey/gatehouse/pkg/storage/redisclient"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := orgs.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run organization migrations")
		os.Exit(1)
	}
	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to run authorization migrations")
		os.Exit(1)
	}

	auditDB := audit.NewDBLogger(db)
	if err := auditDB.Migrate(ctx); err != nil {
		logger.WithError(err).Error("Failed to run audit migrations")
		os.Exit(1)
	}

	if err := rbac.SeedDefaultRoles(ctx, db); err != nil {
		logger.WithError(err).Error("Failed to seed default roles")
		os.Exit(1)
	}
	logger.Info("Migrations applied and default roles seeded")

	redisClient, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to redis")
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	auditLogger := audit.NewMultiLogger(audit.NewLogSink(logger), auditDB)

	// The daemon drives housekeeping only; invitation create/accept run in
	// the embedding host, which supplies the user directory. Purging never
	// touches it.
	engine := orgs.NewPostgresService(db, nil, auditLogger, metrics)
	engine.PrimaryOnFirstJoin = cfg.Invitations.PrimaryOnFirstJoin
	engine.InvitationTTL = cfg.Invitations.DefaultTTL

	scheduler := cron.New()
	if cfg.Invitations.PurgeSchedule != "" {
		_, err := scheduler.AddFunc(cfg.Invitations.PurgeSchedule, func() {
			purged, err := engine.PurgeExpiredInvitations(context.Background(), cfg.Invitations.PurgeRetention)
			if err != nil {
				logger.WithError(err).Error("Invitation purge failed")
				return
			}
			logger.WithField("purged", purged).Info("Invitation purge completed")
		})
		if err != nil {
			logger.WithError(err).Error("Failed to schedule invitation purge")
			os.Exit(1)
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Invitations.PurgeSchedule).Info("Invitation purge scheduled")
	}

	health := observability.NewHealthChecker(db, redisClient)

	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Handle("/healthz", health.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, map[string]string{
			"service": cfg.Observability.OTelServiceName,
			"version": cfg.Observability.OTelServiceVersion,
		})
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	healthRouter.Handle("/healthz", health.Handler()).Methods(http.MethodGet)
	if metrics != nil {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		return nil
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	if metrics != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.UpdateDBStats(db)
			}
		}()
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(shutdownWait(shutdown))

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func shutdownWait(sm *observability.ShutdownManager) func() error {
	return func() error {
		return sm.WaitForShutdown()
	}
}
