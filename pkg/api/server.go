// Package api implements the HTTP Surface (spec.md §4.12): the REST API
// over the Node Store, Job Queue, and Query Engine, plus the WebSocket
// fan-out endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/events"
	"github.com/brain-daemon/brain/pkg/health"
	"github.com/brain-daemon/brain/pkg/query"
	"github.com/brain-daemon/brain/pkg/queue"
	"github.com/brain-daemon/brain/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	cfgMu      sync.RWMutex
	st         *store.Store
	pool       *queue.Pool
	bus        *events.Bus
	wsManager  *events.Manager
	healthRunner *health.Runner
	queryEngine  *query.Engine // nil until SetQueryEngine is called
	limiter      *rateLimiter
}

// NewServer creates a new API server with Echo v5 and registers every
// route. Set* methods may be used afterward to wire optional components
// before Start/StartWithListener.
func NewServer(cfg *config.Config, st *store.Store, pool *queue.Pool, bus *events.Bus, wsManager *events.Manager, healthRunner *health.Runner) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		cfg:          cfg,
		st:           st,
		pool:         pool,
		bus:          bus,
		wsManager:    wsManager,
		healthRunner: healthRunner,
		limiter:      newRateLimiter(10, 20),
	}

	s.setupRoutes()
	return s
}

// SetQueryEngine wires the Query Engine once its analyzer configuration
// has been resolved. The /api/v1/query endpoint returns 503 until this is
// called.
func (s *Server) SetQueryEngine(qe *query.Engine) {
	s.queryEngine = qe
}

// ValidateWiring checks that every required component has been wired.
// The Query Engine is intentionally not required: spec.md §4.10 treats it
// as an optional capability the daemon can run without.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.st == nil {
		errs = append(errs, fmt.Errorf("store not set"))
	}
	if s.healthRunner == nil {
		errs = append(errs, fmt.Errorf("health runner not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) promptContent() (string, error) {
	s.cfgMu.RLock()
	promptFile := s.cfg.Analyzer.PromptFile
	s.cfgMu.RUnlock()
	b, err := os.ReadFile(promptFile)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(b), nil
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(s.limiter.middleware())
	if len(s.cfg.API.CORSOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.cfg.API.CORSOrigins,
		}))
	}

	s.echo.GET("/health", s.livenessHandler)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/health", s.preflightHandler)
	v1.GET("/stats", s.statsHandler)
	v1.GET("/daemon/status", s.daemonStatusHandler)
	v1.GET("/daemon/config", s.configHandler)
	v1.PUT("/daemon/config", s.updateConfigHandler)
	v1.GET("/providers", s.providersHandler)

	v1.GET("/nodes", s.listNodesHandler)
	v1.GET("/nodes/:id", s.getNodeHandler)
	v1.GET("/nodes/:id/edges", s.edgesForNodeHandler)

	v1.GET("/search", s.searchHandler)
	v1.POST("/query", s.queryHandler)

	v1.GET("/decisions", s.listDecisionsHandler)
	v1.POST("/decisions/:id/feedback", s.updateDecisionFeedbackHandler)

	v1.GET("/insights", s.listInsightsHandler)
	v1.GET("/insights/:id/effectiveness", s.getInsightEffectivenessHandler)
	v1.POST("/insights/:id/effectiveness", s.appendInsightEffectivenessHandler)

	v1.GET("/patterns/failures", s.failurePatternsHandler)
	v1.GET("/patterns/models", s.modelPatternsHandler)
	v1.GET("/patterns/lessons", s.lessonPatternsHandler)
	v1.GET("/clusters", s.clustersHandler)

	v1.GET("/prompts/latest", s.latestPromptVersionHandler)
	v1.POST("/prompts/bump", s.bumpPromptHandler)

	// WebSocket fan-out lives at top-level /ws (spec.md §6), not nested
	// under /api/v1: it is a distinct long-lived transport, not a REST
	// resource, and dashboards treat it as a sibling of the REST surface.
	s.echo.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (non-blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
