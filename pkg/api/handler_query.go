package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// queryHandler handles POST /api/v1/query (spec.md §4.10): a synchronous
// question answered from the accumulated knowledge base, independent of
// the Job Queue.
func (s *Server) queryHandler(c *echo.Context) error {
	if s.queryEngine == nil {
		return fail(c, http.StatusServiceUnavailable, "BACKEND_OFFLINE", "query engine not wired", nil)
	}

	var req queryRequest
	if err := c.Bind(&req); err != nil || req.Question == "" {
		return badRequest(c, "question is required")
	}

	var since time.Time
	if req.Since != "" {
		t, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			return badRequest(c, "since must be RFC3339")
		}
		since = t
	}

	res, err := s.queryEngine.Ask(c.Request().Context(), req.Question, req.Project, since, req.TopK)
	if err != nil {
		return fail(c, http.StatusBadGateway, "ANALYZER_FAILED", err.Error(), nil)
	}
	return ok(c, http.StatusOK, res)
}
