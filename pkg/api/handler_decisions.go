package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/brain-daemon/brain/pkg/store"
)

// listDecisionsHandler handles GET /api/v1/decisions: the daemon's
// audit trail of things it decided on its own (spec.md §3).
func (s *Server) listDecisionsHandler(c *echo.Context) error {
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		limit = n
	}

	decisions, err := s.st.ListDecisions(c.Request().Context(), limit)
	if err != nil {
		return mapStoreError(c, err)
	}
	out := make([]decisionResponse, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, toDecisionResponse(d))
	}
	return ok(c, http.StatusOK, out)
}

// updateDecisionFeedbackHandler handles
// POST /api/v1/decisions/:id/feedback: an operator rating a daemon
// decision good or bad after the fact.
func (s *Server) updateDecisionFeedbackHandler(c *echo.Context) error {
	var req decisionFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	feedback := store.UserFeedback(req.Feedback)
	if feedback != store.FeedbackGood && feedback != store.FeedbackBad {
		return badRequest(c, "feedback must be \"good\" or \"bad\"")
	}

	if err := s.st.UpdateDecisionFeedback(c.Request().Context(), c.Param("id"), feedback); err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, map[string]string{"id": c.Param("id"), "feedback": req.Feedback})
}
