package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/events"
)

// configHandler handles GET /api/v1/daemon/config: the currently resolved
// configuration (spec.md §4.12). Secrets are redacted rather than omitted,
// so dashboards can still show which embedding provider is configured
// without leaking its API key.
func (s *Server) configHandler(c *echo.Context) error {
	return ok(c, http.StatusOK, redactConfig(s.currentConfig()))
}

// updateConfigHandler handles PUT /api/v1/daemon/config: merges the
// request body onto the live config and validates the result (spec.md
// §4.12, §5 "updates acquire an exclusive lock and broadcast a
// daemon.config_changed event"). Only components that consult the live
// config on every use observe the change immediately; see
// config.ApplyUpdate's doc comment for which ones require a restart.
func (s *Server) updateConfigHandler(c *echo.Context) error {
	var override config.Config
	if err := c.Bind(&override); err != nil {
		return badRequest(c, "invalid config body: "+err.Error())
	}

	updated, err := s.applyConfigUpdate(override)
	if err != nil {
		return fail(c, http.StatusBadRequest, "SCHEMA_INVALID", err.Error(), nil)
	}

	if s.bus != nil {
		s.bus.Publish(events.ChannelDaemon, events.TypeDaemonConfigChange, map[string]string{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
	return ok(c, http.StatusOK, redactConfig(updated))
}

// currentConfig returns a snapshot of the live config, safe for concurrent
// reads while updateConfigHandler holds the write lock.
func (s *Server) currentConfig() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return *s.cfg
}

// applyConfigUpdate merges override onto the live config under an
// exclusive lock and, on success, swaps it in.
func (s *Server) applyConfigUpdate(override config.Config) (config.Config, error) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	updated, err := config.ApplyUpdate(*s.cfg, override)
	if err != nil {
		return config.Config{}, err
	}
	*s.cfg = updated
	return updated, nil
}

// redactConfig blanks out secret-bearing fields before a config is ever
// serialized back to an HTTP client.
func redactConfig(c config.Config) config.Config {
	if c.Embedding.APIKey != "" {
		c.Embedding.APIKey = "********"
	}
	return c
}

// providersHandler handles GET /api/v1/providers: the analyzer and
// embedding providers this daemon is currently configured to use, plus
// the full set pkg/embedding and pkg/analyzer know how to drive, so a
// dashboard can render a selection list (spec.md §4.12).
func (s *Server) providersHandler(c *echo.Context) error {
	cfg := s.currentConfig()
	return ok(c, http.StatusOK, providersResponse{
		Analyzer: providerSelection{
			Current:   cfg.Analyzer.Provider,
			Available: []string{"anthropic", "openai", "bedrock", "vertex"},
		},
		Embedding: providerSelection{
			Current:   cfg.Embedding.Provider,
			Available: []string{"openai", "ollama"},
		},
	})
}
