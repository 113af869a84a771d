package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avatarctic/ratelimit-planes/configs"
	"github.com/avatarctic/ratelimit-planes/internal/application/services"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/controlplane"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/db"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/events"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/health"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/httpserver"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/logging"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/metrics"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/redis"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/repositories"
)

var controlPlaneCmd = &cobra.Command{
	Use:   "control-plane",
	Short: "Run the policy authority",
	Long: `Run the control plane: stores versioned tenant policies, serves them to data
planes, pushes every committed change and periodically reconciles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configs.LoadControlPlane()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return runControlPlane(cfg)
	},
}

func init() {
	rootCmd.AddCommand(controlPlaneCmd)
}

func runControlPlane(cfg *configs.ControlPlaneConfig) error {
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.WithFields(logrus.Fields{"driver": cfg.Database.Driver, "data_planes": len(cfg.Push.DataPlaneURLs)}).Info("Starting control plane...")

	ctx, stop := signalContext()
	defer stop()

	database, err := db.NewDatabaseWithConfig(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Connected to database and applied migrations")

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	checkers := []ports.HealthChecker{health.NewDBHealthChecker(database)}

	var policyRepo ports.PolicyRepository = repositories.NewPolicyRepository(database, logger)
	var publisher ports.PolicyPublisher

	if cfg.Redis.Enabled {
		client, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable: policy cache and channel disabled")
		} else {
			defer client.Close()
			checkers = append(checkers, health.NewRedisHealthChecker(client, true))
			policyRepo = repositories.NewCachingPolicyRepository(policyRepo, redis.NewRedisCache(client, "ratelimit"), cfg.PolicyCacheTTL)
			if cfg.Channel.Enabled {
				publisher = redis.NewPolicyPublisher(client, cfg.Channel.Name, logger)
			}
		}
	}

	tokens := auth.NewInternalTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	pusher := controlplane.NewDataPlanePusher(controlplane.PusherConfig{
		URLs:       cfg.Push.DataPlaneURLs,
		Timeout:    cfg.Push.Timeout,
		MaxRetries: cfg.Push.MaxRetries,
	}, nil, tokens, recorder, logger)

	bus := events.NewPolicyBus(logger)
	if err := events.NewPropagator(pusher, publisher, 0, logger).Attach(bus); err != nil {
		return err
	}

	auditService := services.NewAuditService(repositories.NewAuditRepository(cfg.AuditLogCapacity, logger), logger)
	policyService := services.NewPolicyService(policyRepo, auditService, bus, logger)

	if cfg.Push.ReconcileSchedule != "" {
		reconciler := controlplane.NewReconciler(policyRepo, pusher, publisher, cfg.Push.ReconcileSchedule, logger)
		if err := reconciler.Start(ctx); err != nil {
			return err
		}
		defer reconciler.Stop()
	}

	server := httpserver.NewControlPlaneServer(&cfg.Server, logger, httpserver.ControlPlaneDeps{
		PolicyService:  policyService,
		AuditService:   auditService,
		Metrics:        recorder,
		Gatherer:       prometheus.DefaultGatherer,
		HealthCheckers: checkers,
	})

	err = serve(ctx, server, cfg.Server.ShutdownTimeout, logger)

	// let in-flight pushes finish before the database closes
	bus.Wait()
	return err
}
