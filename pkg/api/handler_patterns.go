package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/brain-daemon/brain/pkg/store"
)

// failurePatternsHandler handles GET /api/v1/patterns/failures.
func (s *Server) failurePatternsHandler(c *echo.Context) error {
	pats, err := s.st.FailurePatterns(c.Request().Context())
	if err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, toPatternResponses(pats))
}

// modelPatternsHandler handles GET /api/v1/patterns/models.
func (s *Server) modelPatternsHandler(c *echo.Context) error {
	pats, err := s.st.ModelPatterns(c.Request().Context())
	if err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, toPatternResponses(pats))
}

// lessonPatternsHandler handles GET /api/v1/patterns/lessons.
func (s *Server) lessonPatternsHandler(c *echo.Context) error {
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		limit = n
	}

	pats, err := s.st.LessonPatterns(c.Request().Context(), limit)
	if err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, toPatternResponses(pats))
}

// clustersHandler handles GET /api/v1/clusters.
func (s *Server) clustersHandler(c *echo.Context) error {
	clusters, err := s.st.ListClusters(c.Request().Context(), c.QueryParam("project"))
	if err != nil {
		return mapStoreError(c, err)
	}
	out := make([]clusterResponse, 0, len(clusters))
	for _, cl := range clusters {
		out = append(out, toClusterResponse(cl))
	}
	return ok(c, http.StatusOK, out)
}

func toPatternResponses(pats []store.PatternAggregate) []patternAggregateResponse {
	out := make([]patternAggregateResponse, 0, len(pats))
	for _, p := range pats {
		out = append(out, patternAggregateResponse{Key: p.Key, Count: p.Count})
	}
	return out
}
