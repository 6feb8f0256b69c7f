package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// searchHandler handles GET /api/v1/search: full-text search over node
// summaries and tags (spec.md §4.6). Semantic search is exposed as the
// Query Engine's job (POST /api/v1/query), not this endpoint — full-text
// search stays synchronous and cheap.
func (s *Server) searchHandler(c *echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return badRequest(c, "q is required")
	}

	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		limit = n
	}

	hits, err := s.st.SearchFullText(c.Request().Context(), query, limit)
	if err != nil {
		return mapStoreError(c, err)
	}

	out := make([]searchHitResponse, 0, len(hits))
	for _, h := range hits {
		resp := searchHitResponse{NodeID: h.NodeID, Score: h.Score}
		if n, err := s.st.GetNode(c.Request().Context(), h.NodeID); err == nil {
			resp.Summary = n.Content.Summary
			resp.Project = n.Classification.Project
		}
		out = append(out, resp)
	}
	return ok(c, http.StatusOK, out)
}
