// Package scheduler drives the five periodic producers spec.md §4.8
// names (reanalysis, connection_discovery, pattern_aggregation,
// clustering, embedding_backfill) off cron schedules. Grounded on the
// robfig/cron/v3-based worker loop in the retrieved ingestion-pipeline
// command (cron.New + AddFunc per job, context-bounded execution,
// WaitGroup-tracked in-flight jobs, graceful Stop): this package keeps
// that shape but enqueues store.Job rows instead of running the work
// itself — the Worker Pool (pkg/queue) and its Executor do the actual
// analysis, matching the daemon's "schedulers only enqueue" invariant.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/store"
)

// producer is one named periodic job: its cron expression and the kind of
// global job it enqueues.
type producer struct {
	name string
	expr string
	kind store.JobKind
}

// Scheduler enqueues scheduled job kinds onto the Job Queue on their
// configured cron schedules. It never executes analysis itself.
type Scheduler struct {
	st         *store.Store
	cfg        config.ScheduleConfig
	maxQueue   int
	log        *slog.Logger
	cron       *cron.Cron
	wg         sync.WaitGroup
	entryNames map[cron.EntryID]string
}

// New builds a Scheduler bound to st. Cron expressions in cfg were already
// validated at config load time (pkg/config.validateSchedule), so AddFunc
// here cannot fail on a malformed string — only a programmer error in
// producers() would trigger that path.
func New(st *store.Store, cfg config.ScheduleConfig, maxQueueSize int, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		st:         st,
		cfg:        cfg,
		maxQueue:   maxQueueSize,
		log:        log,
		cron:       cron.New(),
		entryNames: make(map[cron.EntryID]string),
	}
}

func (s *Scheduler) producers() []producer {
	return []producer{
		{name: "reanalysis", expr: s.cfg.Reanalysis, kind: store.JobReanalysis},
		{name: "connection_discovery", expr: s.cfg.ConnectionDiscovery, kind: store.JobConnectionDiscovery},
		{name: "pattern_aggregation", expr: s.cfg.PatternAggregation, kind: store.JobPatternAggregation},
		{name: "clustering", expr: s.cfg.Clustering, kind: store.JobClustering},
		{name: "embedding_backfill", expr: s.cfg.EmbeddingBackfill, kind: store.JobEmbeddingBackfill},
	}
}

// Start registers every producer and begins the cron scheduler's
// background goroutine. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, p := range s.producers() {
		p := p
		id, err := s.cron.AddFunc(p.expr, func() { s.runProducer(ctx, p) })
		if err != nil {
			return fmt.Errorf("schedule producer %s: %w", p.name, err)
		}
		s.entryNames[id] = p.name
	}
	s.cron.Start()
	s.log.Info("scheduler started", "producers", len(s.entryNames))
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight enqueue calls
// to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// runProducer enqueues one global job for p.kind. These job kinds carry no
// session_file/segment_boundary — the Dispatcher recognizes an empty
// SessionFile as "run the kind's global sweep" (spec.md §4.8).
func (s *Scheduler) runProducer(ctx context.Context, p producer) {
	s.wg.Add(1)
	defer s.wg.Done()

	log := s.log.With("producer", p.name)
	id, err := s.st.Enqueue(ctx, store.Job{Kind: p.kind, MaxRetries: 1}, s.maxQueue)
	if err != nil {
		log.Error("scheduled enqueue failed", "error", err)
		return
	}
	log.Info("scheduled job enqueued", "job_id", id)
}
