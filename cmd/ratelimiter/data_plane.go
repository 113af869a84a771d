package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avatarctic/ratelimit-planes/configs"
	"github.com/avatarctic/ratelimit-planes/internal/application/services"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/controlplane"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/counters"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/health"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/httpserver"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/logging"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/metrics"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/policyfile"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/redis"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/registry"
)

var dataPlaneCmd = &cobra.Command{
	Use:   "data-plane",
	Short: "Run an enforcement node",
	Long: `Run a data plane: answers admission requests from local memory, pulls the
policy set from the control plane on an interval and accepts pushed policies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configs.LoadDataPlane()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return runDataPlane(cfg)
	},
}

func init() {
	rootCmd.AddCommand(dataPlaneCmd)
}

func runDataPlane(cfg *configs.DataPlaneConfig) error {
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.WithFields(logrus.Fields{"control_plane": cfg.ControlPlane.URL, "strategy": cfg.Limits.Strategy}).Info("Starting data plane...")
	logScalingTradeOff(logger, cfg.Limits)

	ctx, stop := signalContext()
	defer stop()

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)

	policies := registry.NewVersionedPolicyRegistry(policy.Defaults{
		Limit:         cfg.Limits.DefaultLimit,
		WindowSeconds: cfg.Limits.DefaultWindowSeconds,
	}, logger)
	store := counters.NewWindowedCounterStore(cfg.Limits.CounterShards, counters.WithLogger(logger))
	recorder.RegisterDataPlaneGauges(policies.Count, store.Len)

	var limiter ports.RateLimiter
	switch cfg.Limits.Strategy {
	case configs.StrategyTokenBucket:
		limiter = services.NewTokenBucketLimiter(policies, logger, time.Now)
	default:
		limiter = services.NewRateLimiterService(policies, store, logger)
	}
	admission := services.NewAdmissionService(limiter, policies, recorder, logger)

	var wg sync.WaitGroup
	goBackground := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.WithError(err).Errorf("%s stopped", name)
			}
		}()
	}

	if cfg.PolicyFile.Path != "" {
		n, err := policyfile.Apply(ctx, cfg.PolicyFile.Path, admission)
		if err != nil {
			logger.WithError(err).Warn("Failed to seed policies from file")
		} else {
			logger.WithFields(logrus.Fields{"path": cfg.PolicyFile.Path, "policies": n}).Info("Seeded policies from file")
		}
		if cfg.PolicyFile.Watch {
			goBackground("policy file watcher", policyfile.NewWatcher(cfg.PolicyFile.Path, admission, 0, logger).Run)
		}
	}

	cpClient := controlplane.NewClient(cfg.ControlPlane.URL, nil, logger)
	agent := services.NewPolicySyncAgent(cpClient, policies, &services.PolicySyncConfig{
		Interval:     cfg.ControlPlane.SyncInterval,
		FetchTimeout: cfg.ControlPlane.FetchTimeout,
	}, recorder, logger)
	goBackground("policy sync agent", agent.Run)

	if cfg.Limits.Strategy == configs.StrategyFixedWindow && cfg.Limits.ReapInterval > 0 {
		goBackground("counter reaper", func(ctx context.Context) error {
			store.RunReaper(ctx, cfg.Limits.ReapInterval)
			return nil
		})
	}

	checkers := []ports.HealthChecker{
		health.NewControlPlaneChecker(cfg.ControlPlane.URL, &http.Client{Timeout: 2 * time.Second}),
	}

	if cfg.Channel.Enabled {
		client, err := redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			// the pull path still converges without the channel
			logger.WithError(err).Warn("Policy channel disabled: Redis unavailable")
		} else {
			defer client.Close()
			checkers = append(checkers, health.NewRedisHealthChecker(client, true))
			goBackground("policy channel subscriber", redis.NewPolicySubscriber(client, cfg.Channel.Name, admission, logger).Run)
		}
	}

	server := httpserver.NewDataPlaneServer(&cfg.Server, logger, httpserver.DataPlaneDeps{
		Admission:       admission,
		Syncer:          agent,
		ControlPlaneURL: cfg.ControlPlane.URL,
		Strategy:        cfg.Limits.Strategy,
		Tokens:          auth.NewInternalTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Metrics:         recorder,
		Gatherer:        prometheus.DefaultGatherer,
		HealthCheckers:  checkers,
	})

	err = serve(ctx, server, cfg.Server.ShutdownTimeout, logger)
	stop()
	wg.Wait()
	return err
}

// logScalingTradeOff tells operators that counters are node-local, so N data planes
// admit up to N x limit per tenant window.
func logScalingTradeOff(logger *logrus.Logger, limits configs.LimitsConfig) {
	logger.WithFields(logrus.Fields{
		"counting":       "per-node",
		"default_limit":  limits.DefaultLimit,
		"default_window": limits.DefaultWindowSeconds,
	}).Warn("Rate-limit counters are local to this node; with N data planes a tenant may be admitted up to N x limit per window")
}
