package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/application/services"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/httpserver/helpers"
)

type admissionRequest struct {
	TenantID  string `json:"tenantId"`
	RequestID string `json:"requestId"`
}

func (s *Server) admitRequest(c echo.Context) error {
	var req admissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.admission.Handle(c.Request().Context(), req.TenantID, req.RequestID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	helpers.SetRateLimitHeaders(c, res)
	if !res.Allowed {
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error":      "rate limit exceeded",
			"tenantId":   res.TenantID,
			"requestId":  res.RequestID,
			"limit":      res.Limit,
			"window":     res.WindowSeconds,
			"count":      res.Count,
			"retryAfter": res.RetryAfter,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        "allowed",
		"tenantId":      res.TenantID,
		"requestId":     res.RequestID,
		"limit":         res.Limit,
		"window":        res.WindowSeconds,
		"remaining":     res.Remaining,
		"policyVersion": res.PolicyVersion,
	})
}

// pushPolicy acknowledges every well-formed policy the same way, whether it was
// applied or superseded.
func (s *Server) pushPolicy(c echo.Context) error {
	var p policy.Policy
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.admission.UpdateConfig(c.Request().Context(), p, ports.SourcePush); err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"tenant_id": p.TenantID, "version": p.Version, "caller": helpers.GetInternalCaller(c)}).Debug("policy push received")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) triggerSync(c echo.Context) error {
	if s.syncer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "policy sync is not configured")
	}
	res, err := s.syncer.SyncNow(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":    err.Error(),
			"policies": s.admission.PolicyCount(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "synced",
		"fetched":    res.Fetched,
		"applied":    res.Applied,
		"durationMs": res.Duration.Milliseconds(),
	})
}

// countingScope tells operators that counters are local to this node: N nodes
// admit up to N x limit per tenant window.
const countingScope = "per-node"

func (s *Server) dataPlaneStatus(c echo.Context) error {
	body := map[string]interface{}{
		"counting":        countingScope,
		"policies":        s.admission.PolicyCount(),
		"controlPlaneURL": s.controlPlaneURL,
		"strategy":        s.strategy,
	}
	if s.syncer != nil {
		body["sync"] = s.syncer.Status()
	}
	if c.QueryParam("verbose") == "true" {
		body["overrides"] = s.admission.Policies()
	}
	return c.JSON(http.StatusOK, body)
}
