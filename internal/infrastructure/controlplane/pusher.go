package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
)

// ConfigPath is the data plane's policy push endpoint.
const ConfigPath = "/internal/config/rate-limits"

// Push outcomes used as metric labels.
const (
	PushOutcomeSuccess = "success"
	PushOutcomeFailure = "failure"
)

// PusherConfig groups configuration parameters for DataPlanePusher.
type PusherConfig struct {
	URLs       []string
	Timeout    time.Duration
	MaxRetries int
	// InitialBackoff is the first retry delay; later ones grow exponentially.
	InitialBackoff time.Duration
}

// DataPlanePusher delivers a policy to every configured data plane. Each target is
// retried independently with exponential backoff; 4xx answers are not retried.
type DataPlanePusher struct {
	urls    []string
	timeout time.Duration
	tries   uint
	initial time.Duration
	http    *http.Client
	tokens  *auth.InternalTokens
	metrics ports.MetricsRecorder
	logger  *logrus.Logger
}

func NewDataPlanePusher(cfg PusherConfig, httpClient *http.Client, tokens *auth.InternalTokens, metrics ports.MetricsRecorder, logger *logrus.Logger) *DataPlanePusher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &DataPlanePusher{
		urls:    cfg.URLs,
		timeout: timeout,
		tries:   uint(retries) + 1,
		initial: initial,
		http:    httpClient,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
	}
}

// Targets returns the configured data plane URLs.
func (p *DataPlanePusher) Targets() []string { return p.urls }

// Push implements ports.PolicyPusher. Targets are pushed concurrently; the joined
// error lists every target that still failed after retries.
func (p *DataPlanePusher) Push(ctx context.Context, pol *policy.Policy) error {
	body, err := json.Marshal(pol)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range p.urls {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			if err := p.pushOne(ctx, target, body); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", target, err))
				mu.Unlock()
				p.observe(PushOutcomeFailure)
				if p.logger != nil {
					p.logger.WithFields(logrus.Fields{"target": target, "tenant_id": pol.TenantID, "version": pol.Version}).WithError(err).Warn("failed to push policy to data plane")
				}
				return
			}
			p.observe(PushOutcomeSuccess)
			if p.logger != nil {
				p.logger.WithFields(logrus.Fields{"target": target, "tenant_id": pol.TenantID, "version": pol.Version}).Debug("policy pushed")
			}
		}(u)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (p *DataPlanePusher) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.ObservePush(outcome)
	}
}

func (p *DataPlanePusher) pushOne(ctx context.Context, target string, body []byte) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initial
	eb.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.attempt(ctx, target, body)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.logger != nil {
				p.logger.WithFields(logrus.Fields{"target": target, "retry_in": next.String()}).WithError(err).Debug("policy push retry")
			}
		}),
	)
	return err
}

func (p *DataPlanePusher) attempt(ctx context.Context, target string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target+ConfigPath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.tokens.Enabled() {
		tok, err := p.tokens.Issue("control-plane")
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode))
	default:
		return fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}
}
