// Package cleanup runs the daemon's retention policies on a ticker: it
// archives old node versions and prunes terminal job rows past their TTL.
// Grounded on the teacher's cleanup.Service (ticker-driven Start/Stop/run
// loop over a retention config), adapted from the teacher's ent-backed
// session/event services to this daemon's pkg/store.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/store"
)

// sweepInterval is how often the retention loop runs. Retention is
// measured in days/seconds, so a cadence this coarse never misses a
// policy boundary.
const sweepInterval = time.Hour

// Service periodically enforces retention policies:
//   - Archives node versions past the configured retain count
//     (store.ArchiveOldVersions)
//   - Prunes terminal job rows past their TTL (store.PruneCompletedJobs)
//
// All operations are idempotent and safe to re-run.
type Service struct {
	st  *store.Store
	cfg config.RetentionConfig
	log *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service bound to st.
func NewService(st *store.Store, cfg config.RetentionConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{st: st, cfg: cfg, log: log}
}

// Start launches the background cleanup loop. Safe to call once; a second
// call is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.log.Info("cleanup service started",
		"node_version_retain_count", s.cfg.NodeVersionRetainCount,
		"archive_after_days", s.cfg.ArchiveAfterDays,
		"event_ttl_seconds", s.cfg.EventTTLSeconds,
		"interval", sweepInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.archiveOldVersions(ctx)
	s.pruneCompletedJobs(ctx)
}

func (s *Service) archiveOldVersions(ctx context.Context) {
	n, err := s.st.ArchiveOldVersions(ctx, s.cfg.NodeVersionRetainCount)
	if err != nil {
		s.log.Error("retention: archive node versions failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("retention: archived node versions", "count", n)
	}
}

func (s *Service) pruneCompletedJobs(ctx context.Context) {
	if s.cfg.EventTTLSeconds <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(s.cfg.EventTTLSeconds) * time.Second)
	n, err := s.st.PruneCompletedJobs(ctx, cutoff)
	if err != nil {
		s.log.Error("retention: prune completed jobs failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("retention: pruned completed jobs", "count", n)
	}
}
