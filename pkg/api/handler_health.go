package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/brain-daemon/brain/pkg/health"
)

// livenessHandler handles GET /health: the plain, unauthenticated
// liveness probe (spec.md §6), distinct from the richer preflight list at
// GET /api/v1/health.
func (s *Server) livenessHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, livenessResponse{Available: true, Message: "ok"})
}

// preflightHandler handles GET /api/v1/health: re-runs the same named
// check set the daemon ran at startup, on demand (spec.md §4.9).
func (s *Server) preflightHandler(c *echo.Context) error {
	if s.healthRunner == nil {
		return fail(c, http.StatusServiceUnavailable, "BACKEND_OFFLINE", "health runner not wired", nil)
	}
	checks := s.healthRunner.Run(c.Request().Context())
	status := http.StatusOK
	if health.Fatal(checks) {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, preflightResponse{Healthy: !health.Fatal(checks), Checks: checks})
}
