package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/ratelimit-planes/internal/application/services"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/httpserver/helpers"
)

// policyError maps service errors onto HTTP statuses.
func policyError(err error) error {
	switch {
	case errors.Is(err, policy.ErrInvalidPolicy):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrPolicyNotFound), errors.Is(err, services.ErrVersionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrPolicyExists), errors.Is(err, policy.ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// listPolicies is also the data planes' pull endpoint.
func (s *Server) listPolicies(c echo.Context) error {
	ps, err := s.policySvc.ListPolicies(c.Request().Context())
	if err != nil {
		return policyError(err)
	}
	return c.JSON(http.StatusOK, ps)
}

func (s *Server) createPolicy(c echo.Context) error {
	var req policy.CreatePolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.UserID = helpers.ResolveActor(c, req.UserID)
	p, err := s.policySvc.CreatePolicy(c.Request().Context(), &req)
	if err != nil {
		return policyError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) getPolicy(c echo.Context) error {
	tenantID := c.Param("tenantId")
	if v := c.QueryParam("version"); v != "" {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil || version <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid version")
		}
		p, err := s.policySvc.GetPolicyVersion(c.Request().Context(), tenantID, version)
		if err != nil {
			return policyError(err)
		}
		return c.JSON(http.StatusOK, p)
	}
	p, err := s.policySvc.GetPolicy(c.Request().Context(), tenantID)
	if err != nil {
		return policyError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) updatePolicy(c echo.Context) error {
	var req policy.UpdatePolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.UserID = helpers.ResolveActor(c, req.UserID)
	p, err := s.policySvc.UpdatePolicy(c.Request().Context(), c.Param("tenantId"), &req)
	if err != nil {
		return policyError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) listPolicyVersions(c echo.Context) error {
	tenantID := c.Param("tenantId")
	versions, err := s.policySvc.ListVersions(c.Request().Context(), tenantID)
	if err != nil {
		return policyError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tenantId": tenantID, "versions": versions})
}

func (s *Server) rollbackPolicy(c echo.Context) error {
	var req policy.RollbackPolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TargetVersion <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "targetVersion is required")
	}
	req.UserID = helpers.ResolveActor(c, req.UserID)
	p, err := s.policySvc.RollbackPolicy(c.Request().Context(), c.Param("tenantId"), &req)
	if err != nil {
		return policyError(err)
	}
	return c.JSON(http.StatusOK, p)
}
