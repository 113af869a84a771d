package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// SyncState is the agent's position in its Idle -> Fetching -> Merging -> Idle cycle.
type SyncState int32

const (
	SyncIdle SyncState = iota
	SyncFetching
	SyncMerging
)

func (s SyncState) String() string {
	switch s {
	case SyncFetching:
		return "fetching"
	case SyncMerging:
		return "merging"
	default:
		return "idle"
	}
}

// Sync outcomes used as metric labels.
const (
	SyncOutcomeSuccess = "success"
	SyncOutcomeFailure = "failure"
	SyncOutcomeTimeout = "timeout"
)

const (
	DefaultSyncInterval = 30 * time.Second
	DefaultFetchTimeout = 5 * time.Second
)

// PolicySyncConfig groups configuration parameters for the sync agent.
type PolicySyncConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
}

// PolicySyncAgent keeps the local registry fresh by pulling the full policy set from
// the control plane. It never sits on the admission path. When the control plane
// cannot be reached the registry is left untouched and enforcement continues on the
// last-known-good set: stale policies are preferred over blocking or denying traffic.
type PolicySyncAgent struct {
	source   ports.PolicySource
	registry ports.PolicyRegistry
	metrics  ports.MetricsRecorder
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger

	state  atomic.Int32
	flight singleflight.Group

	mu     sync.Mutex
	status ports.SyncStatus
	// runCtx is the context of an active Run; shared cycles are bound to it.
	runCtx context.Context
}

func NewPolicySyncAgent(source ports.PolicySource, registry ports.PolicyRegistry, cfg *PolicySyncConfig, metrics ports.MetricsRecorder, logger *logrus.Logger) *PolicySyncAgent {
	interval := DefaultSyncInterval
	timeout := DefaultFetchTimeout
	if cfg != nil {
		if cfg.Interval > 0 {
			interval = cfg.Interval
		}
		if cfg.FetchTimeout > 0 {
			timeout = cfg.FetchTimeout
		}
	}
	a := &PolicySyncAgent{source: source, registry: registry, metrics: metrics, interval: interval, timeout: timeout, logger: logger}
	a.status.Endpoint = source.Endpoint()
	a.status.Interval = interval.String()
	return a
}

// State returns the current cycle state.
func (a *PolicySyncAgent) State() SyncState {
	return SyncState(a.state.Load())
}

// Run performs an immediate sync and then one per interval until ctx is cancelled.
// Failures are logged and never end the loop.
func (a *PolicySyncAgent) Run(ctx context.Context) error {
	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{"endpoint": a.source.Endpoint(), "interval": a.interval.String(), "fetch_timeout": a.timeout.String()}).Info("policy sync agent started")
	}
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.runCtx = nil
		a.mu.Unlock()
	}()

	_, _ = a.SyncNow(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if a.logger != nil {
				a.logger.Info("policy sync agent stopped")
			}
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			_, _ = a.SyncNow(ctx)
		}
	}
}

// SyncNow runs one fetch-and-merge cycle. Concurrent callers share a single cycle, so
// a slow control plane never accumulates overlapping fetches. The shared cycle is not
// bound to any one caller: a caller whose ctx ends stops waiting, the cycle goes on.
func (a *PolicySyncAgent) SyncNow(ctx context.Context) (ports.SyncResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.SyncResult{}, err
	}
	ch := a.flight.DoChan("sync", func() (any, error) {
		return a.syncOnce(a.cycleContext(ctx))
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(ports.SyncResult)
		return res, r.Err
	case <-ctx.Done():
		return ports.SyncResult{}, ctx.Err()
	}
}

// cycleContext is the agent's run context while Run is active, otherwise the
// caller's values without its cancellation. syncOnce bounds either with the fetch timeout.
func (a *PolicySyncAgent) cycleContext(caller context.Context) context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.WithoutCancel(caller)
}

type fetchResult struct {
	policies []policy.Policy
	err      error
}

func (a *PolicySyncAgent) syncOnce(ctx context.Context) (ports.SyncResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.SyncResult{}, err
	}
	start := time.Now()
	a.state.Store(int32(SyncFetching))
	a.markAttempt(start)

	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// the fetch runs detached so a source that ignores its context is abandoned at the deadline
	results := make(chan fetchResult, 1)
	go func() {
		ps, err := a.source.FetchPolicies(fetchCtx)
		results <- fetchResult{policies: ps, err: err}
	}()

	var fr fetchResult
	select {
	case fr = <-results:
	case <-fetchCtx.Done():
		fr.err = fetchCtx.Err()
	}

	if fr.err != nil {
		a.state.Store(int32(SyncIdle))
		if errors.Is(fr.err, context.Canceled) && ctx.Err() != nil {
			// shutdown, not an upstream failure
			if a.logger != nil {
				a.logger.WithField("endpoint", a.source.Endpoint()).Debug("policy sync interrupted by shutdown")
			}
			return ports.SyncResult{}, fr.err
		}
		outcome := SyncOutcomeFailure
		if errors.Is(fr.err, context.DeadlineExceeded) {
			outcome = SyncOutcomeTimeout
		}
		a.markFailure(fr.err)
		if a.metrics != nil {
			a.metrics.ObserveSync(outcome, time.Since(start))
		}
		if a.logger != nil {
			a.logger.WithFields(logrus.Fields{"endpoint": a.source.Endpoint(), "outcome": outcome}).WithError(fr.err).Warn("policy sync failed; keeping last-known-good policies")
		}
		return ports.SyncResult{}, fmt.Errorf("fetch policies from %s: %w", a.source.Endpoint(), fr.err)
	}

	// Each Update is atomic per tenant, so the merge runs to completion even if ctx is
	// cancelled meanwhile; a partial merge would also have been safe.
	a.state.Store(int32(SyncMerging))
	applied := 0
	for _, p := range fr.policies {
		ok := a.registry.Update(p)
		if ok {
			applied++
		}
		if a.metrics != nil {
			a.metrics.ObservePolicyUpdate(ports.SourcePull, ok)
		}
	}
	a.state.Store(int32(SyncIdle))

	res := ports.SyncResult{Fetched: len(fr.policies), Applied: applied, Duration: time.Since(start)}
	a.markSuccess(res)
	if a.metrics != nil {
		a.metrics.ObserveSync(SyncOutcomeSuccess, res.Duration)
	}
	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{"fetched": res.Fetched, "applied": res.Applied, "duration_ms": res.Duration.Milliseconds()}).Debug("policy sync completed")
	}
	return res, nil
}

func (a *PolicySyncAgent) markAttempt(t time.Time) {
	a.mu.Lock()
	a.status.LastAttempt = t
	a.mu.Unlock()
}

func (a *PolicySyncAgent) markFailure(err error) {
	a.mu.Lock()
	a.status.LastError = err.Error()
	a.status.ConsecutiveFailures++
	a.mu.Unlock()
}

func (a *PolicySyncAgent) markSuccess(res ports.SyncResult) {
	a.mu.Lock()
	a.status.LastSuccess = time.Now()
	a.status.LastError = ""
	a.status.ConsecutiveFailures = 0
	a.status.LastFetched = res.Fetched
	a.status.LastApplied = res.Applied
	a.mu.Unlock()
}

// Status implements ports.PolicySyncer.
func (a *PolicySyncAgent) Status() ports.SyncStatus {
	a.mu.Lock()
	st := a.status
	a.mu.Unlock()
	st.State = a.State().String()
	return st
}
