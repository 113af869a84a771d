package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/audit"
)

func (s *Server) getAuditLog(c echo.Context) error {
	filter := audit.AuditFilter{TenantID: c.QueryParam("tenantId"), Limit: 100}
	if a := c.QueryParam("action"); a != "" {
		action := audit.Action(a)
		filter.Action = &action
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC3339")
		}
		filter.Since = &t
	}
	if l := c.QueryParam("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			filter.Limit = v
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	entries, total, err := s.auditSvc.GetAuditLog(c.Request().Context(), &filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"logs": entries, "total": total, "limit": filter.Limit, "offset": filter.Offset})
}
