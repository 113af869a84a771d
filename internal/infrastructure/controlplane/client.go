package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
)

// PoliciesPath is the control plane's pull endpoint.
const PoliciesPath = "/api/v1/rate-limit-policies"

// ErrUpstreamStatus is returned when the control plane answers with a non-2xx status.
var ErrUpstreamStatus = errors.New("unexpected control plane status")

// maxPolicyPayload caps how much of a pull response is read.
const maxPolicyPayload = 32 << 20

// Client is the data plane's HTTP view of the control plane.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// NewClient creates a client for baseURL. Deadlines come from the caller's context,
// so the http.Client carries no timeout of its own.
func NewClient(baseURL string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		}}
	}
	return &Client{baseURL: baseURL, http: httpClient, logger: logger}
}

// Endpoint implements ports.PolicySource.
func (c *Client) Endpoint() string { return c.baseURL }

// FetchPolicies implements ports.PolicySource: GET the full current policy set.
func (c *Client) FetchPolicies(ctx context.Context) ([]policy.Policy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PoliciesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	var policies []policy.Policy
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPolicyPayload)).Decode(&policies); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"endpoint": c.baseURL, "count": len(policies)}).Debug("policies fetched")
	}
	return policies, nil
}
