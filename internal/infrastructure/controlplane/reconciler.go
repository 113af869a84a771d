package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
)

// PolicyLister is the read side the reconciler needs.
type PolicyLister interface {
	List(ctx context.Context) ([]*policy.Policy, error)
}

// ReconcileResult summarises one reconciliation pass.
type ReconcileResult struct {
	Policies int
	Failed   int
}

// Reconciler re-pushes every current policy on a cron schedule so that pushes lost
// while a data plane was down are repaired without waiting for its next pull.
type Reconciler struct {
	lister    PolicyLister
	pusher    ports.PolicyPusher
	publisher ports.PolicyPublisher
	schedule  string
	logger    *logrus.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewReconciler(lister PolicyLister, pusher ports.PolicyPusher, publisher ports.PolicyPublisher, schedule string, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		lister:    lister,
		pusher:    pusher,
		publisher: publisher,
		schedule:  schedule,
		logger:    logger,
	}
}

// Start schedules reconciliation and stops it when ctx is cancelled. Overlapping
// runs are skipped.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}

	var cronLogger cron.Logger = cron.DiscardLogger
	if r.logger != nil {
		cronLogger = cron.PrintfLogger(r.logger)
	}
	r.cron = cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := r.cron.AddFunc(r.schedule, func() { _, _ = r.Reconcile(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}
	r.cron.Start()
	r.running = true
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"schedule": r.schedule}).Info("policy reconciler started")
	}

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil && r.running {
		<-r.cron.Stop().Done()
		r.running = false
		if r.logger != nil {
			r.logger.Info("policy reconciler stopped")
		}
	}
}

// NextRun returns the next scheduled pass, or nil when not running.
func (r *Reconciler) NextRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil || !r.running {
		return nil
	}
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// Reconcile pushes (and publishes) every current policy once.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	policies, err := r.lister.List(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("reconciliation skipped: failed to list policies")
		}
		return ReconcileResult{}, fmt.Errorf("failed to list policies: %w", err)
	}

	res := ReconcileResult{Policies: len(policies)}
	for _, p := range policies {
		if ctx.Err() != nil {
			break
		}
		if r.pusher != nil {
			if err := r.pusher.Push(ctx, p); err != nil {
				res.Failed++
			}
		}
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, p); err != nil && r.logger != nil {
				r.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID}).WithError(err).Warn("failed to publish policy during reconciliation")
			}
		}
	}
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"policies": res.Policies, "failed": res.Failed}).Debug("reconciliation pass completed")
	}
	return res, nil
}
