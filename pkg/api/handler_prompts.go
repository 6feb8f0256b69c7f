package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// latestPromptVersionHandler handles GET /api/v1/prompts/latest.
func (s *Server) latestPromptVersionHandler(c *echo.Context) error {
	pv, found, err := s.st.LatestPromptVersion(c.Request().Context())
	if err != nil {
		return mapStoreError(c, err)
	}
	if !found {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "no prompt version recorded yet", nil)
	}
	return ok(c, http.StatusOK, toPromptVersionResponse(pv))
}

// bumpPromptHandler handles POST /api/v1/prompts/bump: forces a new
// prompt version even when the analyzer prompt's content is unchanged,
// mirroring the `prompt bump --reason` CLI command (spec.md §6).
func (s *Server) bumpPromptHandler(c *echo.Context) error {
	var req promptBumpRequest
	if err := c.Bind(&req); err != nil || req.Reason == "" {
		return badRequest(c, "reason is required")
	}

	content, err := s.promptContent()
	if err != nil {
		return fail(c, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}

	// Appending a non-comment marker forces the content hash to change,
	// per the prompt-version invariant that an HTML-comment-only edit
	// never bumps the version (pkg/store/prompts.go's NormalizePrompt
	// strips comments before hashing).
	forced := content + "\n\nbump: " + req.Reason
	pv, err := s.st.ResolvePromptVersion(c.Request().Context(), forced, req.Reason)
	if err != nil {
		return mapStoreError(c, err)
	}
	return ok(c, http.StatusOK, toPromptVersionResponse(pv))
}
