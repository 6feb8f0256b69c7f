package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/brain-daemon/brain/pkg/store"
)

// listNodesHandler handles GET /api/v1/nodes.
//
// Query parameters: project, type, outcome, since (RFC3339), limit.
func (s *Server) listNodesHandler(c *echo.Context) error {
	filter := store.NodeFilter{
		Project: c.QueryParam("project"),
		Type:    c.QueryParam("type"),
		Outcome: store.Outcome(c.QueryParam("outcome")),
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return badRequest(c, "since must be RFC3339")
		}
		filter.Since = t
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}
		filter.Limit = n
	}

	nodes, err := s.st.ListNodes(c.Request().Context(), filter)
	if err != nil {
		return mapStoreError(c, err)
	}

	out := make([]nodeSummaryResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeSummaryResponse(n))
	}
	return ok(c, http.StatusOK, out)
}

// getNodeHandler handles GET /api/v1/nodes/:id, returning the full
// canonical node (not the relational summary).
func (s *Server) getNodeHandler(c *echo.Context) error {
	n, err := s.st.GetNode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, n)
}

// edgesForNodeHandler handles GET /api/v1/nodes/:id/edges.
func (s *Server) edgesForNodeHandler(c *echo.Context) error {
	edges, err := s.st.EdgesFor(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(c, err)
	}
	out := make([]edgeResponse, 0, len(edges))
	for _, e := range edges {
		out = append(out, toEdgeResponse(e))
	}
	return ok(c, http.StatusOK, out)
}
