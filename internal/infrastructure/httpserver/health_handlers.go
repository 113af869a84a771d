package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/health"
)

func (s *Server) evaluateHealth(c echo.Context) health.Report {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	return health.Evaluate(ctx, s.healthCheckers)
}

// dataPlaneHealth never reports unhealthy because of the control plane; the node
// keeps admitting on cached policies.
func (s *Server) dataPlaneHealth(c echo.Context) error {
	rep := s.evaluateHealth(c)
	body := map[string]interface{}{
		"status":          rep.Status,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"service":         string(RoleDataPlane),
		"policies":        s.admission.PolicyCount(),
		"controlPlaneURL": s.controlPlaneURL,
		"dependencies":    rep.Dependencies,
	}
	code := http.StatusOK
	if !rep.Healthy() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, body)
}

func (s *Server) controlPlaneHealth(c echo.Context) error {
	rep := s.evaluateHealth(c)
	body := map[string]interface{}{
		"status":       rep.Status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"service":      string(RoleControlPlane),
		"dependencies": rep.Dependencies,
	}
	// the total is informational; a failing store already shows in dependencies
	if n, err := s.policySvc.CountPolicies(c.Request().Context()); err == nil {
		body["policies"] = n
	}
	code := http.StatusOK
	if !rep.Healthy() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, body)
}
