package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"

	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	infraDB "github.com/avatarctic/ratelimit-planes/internal/infrastructure/db"
)

// dbHealthChecker wraps the database for health checks.
type dbHealthChecker struct{ db *infraDB.Database }

func (d *dbHealthChecker) Name() string                    { return "database" }
func (d *dbHealthChecker) Check(ctx context.Context) error { return d.db.Ping(ctx) }

// redisHealthChecker wraps the redis client for health checks.
type redisHealthChecker struct {
	client   redis.Cmdable
	optional bool
}

func (r *redisHealthChecker) Name() string                    { return "redis" }
func (r *redisHealthChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
func (r *redisHealthChecker) Optional() bool                  { return r.optional }

// controlPlaneChecker checks the control plane's /health from a data plane. It is
// always optional: enforcement continues on cached policies while it is down.
type controlPlaneChecker struct {
	url    string
	client *http.Client
}

func (c *controlPlaneChecker) Name() string   { return "control_plane" }
func (c *controlPlaneChecker) Optional() bool { return true }
func (c *controlPlaneChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane health returned %d", resp.StatusCode)
	}
	return nil
}

// NewDBHealthChecker creates a health checker for the database.
func NewDBHealthChecker(db *infraDB.Database) ports.HealthChecker { return &dbHealthChecker{db: db} }

// NewRedisHealthChecker creates a health checker for Redis. An optional checker
// degrades the report without failing it.
func NewRedisHealthChecker(client redis.Cmdable, optional bool) ports.HealthChecker {
	return &redisHealthChecker{client: client, optional: optional}
}

// NewControlPlaneChecker creates the data plane's check of its policy source.
func NewControlPlaneChecker(baseURL string, client *http.Client) ports.HealthChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &controlPlaneChecker{url: baseURL, client: client}
}

// Status values reported by Evaluate.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Report is the aggregated view of every checker.
type Report struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Healthy reports whether the node should answer 200.
func (r Report) Healthy() bool { return r.Status != StatusUnhealthy }

// Evaluate runs every checker. A failing required checker makes the report
// unhealthy; a failing optional one only degrades it.
func Evaluate(ctx context.Context, checkers []ports.HealthChecker) Report {
	rep := Report{Status: StatusHealthy, Dependencies: make(map[string]string, len(checkers))}
	for _, hc := range checkers {
		if hc == nil {
			continue
		}
		if err := hc.Check(ctx); err != nil {
			rep.Dependencies[hc.Name()] = StatusUnhealthy
			if isOptional(hc) {
				if rep.Status == StatusHealthy {
					rep.Status = StatusDegraded
				}
			} else {
				rep.Status = StatusUnhealthy
			}
			continue
		}
		rep.Dependencies[hc.Name()] = StatusHealthy
	}
	return rep
}

func isOptional(hc ports.HealthChecker) bool {
	o, ok := hc.(ports.OptionalDependency)
	return ok && o.Optional()
}
