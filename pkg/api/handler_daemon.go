package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// statsHandler handles GET /api/v1/stats.
func (s *Server) statsHandler(c *echo.Context) error {
	stats, err := s.st.Stats(c.Request().Context())
	if err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, toStatsResponse(stats))
}

// daemonStatusHandler handles GET /api/v1/daemon/status: queue depth plus
// worker pool health, for dashboards and the `daemon status` CLI command.
func (s *Server) daemonStatusHandler(c *echo.Context) error {
	qs, err := s.st.QueueStats(c.Request().Context())
	if err != nil {
		return mapStoreError(c, err)
	}

	resp := daemonStatusResponse{Queue: qs}
	if s.pool != nil {
		resp.Workers = s.pool.Health()
	}
	return ok(c, http.StatusOK, resp)
}
