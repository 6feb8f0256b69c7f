package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/brain-daemon/brain/pkg/store"
)

// listInsightsHandler handles GET /api/v1/insights.
//
// Optional query parameter: type (quirk, tool_error, failure, win, lesson).
func (s *Server) listInsightsHandler(c *echo.Context) error {
	insights, err := s.st.ListInsights(c.Request().Context(), store.InsightType(c.QueryParam("type")))
	if err != nil {
		return mapStoreError(c, err)
	}
	out := make([]insightResponse, 0, len(insights))
	for _, in := range insights {
		out = append(out, toInsightResponse(in))
	}
	return ok(c, http.StatusOK, out)
}

// getInsightEffectivenessHandler handles
// GET /api/v1/insights/:id/effectiveness.
func (s *Server) getInsightEffectivenessHandler(c *echo.Context) error {
	in, err := s.st.GetInsight(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, map[string]any{
		"id":      in.ID,
		"history": in.EffectivenessHistory,
	})
}

// appendInsightEffectivenessHandler handles
// POST /api/v1/insights/:id/effectiveness: records a new effectiveness
// observation, e.g. a measured change in reanalysis rate after a prompt
// bump included this insight.
func (s *Server) appendInsightEffectivenessHandler(c *echo.Context) error {
	var req insightEffectivenessRequest
	if err := c.Bind(&req); err != nil || req.Observation == "" {
		return badRequest(c, "observation is required")
	}
	if err := s.st.AppendInsightEffectiveness(c.Request().Context(), c.Param("id"), req.Observation); err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, map[string]string{"id": c.Param("id")})
}
