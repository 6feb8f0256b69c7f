package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brain-daemon/brain/pkg/analyzer"
	"github.com/brain-daemon/brain/pkg/api"
	"github.com/brain-daemon/brain/pkg/cleanup"
	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/connections"
	"github.com/brain-daemon/brain/pkg/dispatch"
	"github.com/brain-daemon/brain/pkg/embedding"
	"github.com/brain-daemon/brain/pkg/events"
	"github.com/brain-daemon/brain/pkg/health"
	"github.com/brain-daemon/brain/pkg/masking"
	"github.com/brain-daemon/brain/pkg/query"
	"github.com/brain-daemon/brain/pkg/queue"
	"github.com/brain-daemon/brain/pkg/scheduler"
	"github.com/brain-daemon/brain/pkg/segment"
	"github.com/brain-daemon/brain/pkg/session"
	"github.com/brain-daemon/brain/pkg/store"
	"github.com/brain-daemon/brain/pkg/watcher"
)

type daemonStartCmd struct {
	Foreground bool `help:"Ignored; start always runs in the foreground under the current process." default:"true" hidden:""`
}

func (c *daemonStartCmd) Run() error {
	_ = godotenv.Load()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return wrapFatal(categoryPermanent, "", err, fmt.Sprintf("load config %s", cfgPath))
	}
	cfg = applyEnvOverrides(cfg)

	logPath := logFilePath(cfg.Store.DataRoot)
	log, closeLog, err := newLogger(logPath)
	if err != nil {
		return wrapFatal(categoryResource, "", err, "open log file")
	}
	defer closeLog()

	pidPath := pidFilePath(cfg.Store.DataRoot)
	if err := os.MkdirAll(cfg.Store.DataRoot, 0o755); err != nil {
		return wrapFatal(categoryResource, logPath, err, "create data root")
	}
	if err := acquirePIDLock(pidPath); err != nil {
		return wrapFatal(categoryResource, logPath, err, "acquire pid lock")
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDaemon(ctx, cfg, log)
	if err != nil {
		return wrapFatal(categoryResource, logPath, err, "wire daemon components")
	}
	defer d.close()

	checks := d.health.Run(ctx)
	for _, c := range checks {
		if c.Passed {
			log.Info("preflight check passed", "check", c.Name, "message", c.Message)
		} else {
			level := slog.LevelWarn
			if c.Fatal {
				level = slog.LevelError
			}
			log.Log(ctx, level, "preflight check failed", "check", c.Name, "message", c.Message, "fatal", c.Fatal)
		}
	}
	if health.Fatal(checks) {
		return fatalf(categoryResource, logPath, "fatal preflight check failed, see log")
	}

	if err := d.start(ctx); err != nil {
		return wrapFatal(categoryResource, logPath, err, "start daemon components")
	}

	log.Info("daemon started", "data_root", cfg.Store.DataRoot, "pid", os.Getpid())
	<-ctx.Done()
	log.Info("shutdown signal received, draining")
	d.shutdown()
	log.Info("daemon stopped")
	return nil
}

func newLogger(logPath string) (*slog.Logger, func(), error) {
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	log := slog.New(slog.NewJSONHandler(f, nil))
	return log, func() { _ = f.Close() }, nil
}

// daemon holds every long-lived component started by `daemon start`, so
// startup and shutdown each reduce to one method instead of a sprawling
// sequence of named locals.
type daemon struct {
	cfg       config.Config
	log       *slog.Logger
	st        *store.Store
	bus       *events.Bus
	wsManager *events.Manager
	health    *health.Runner
	pool      *queue.Pool
	scheduler *scheduler.Scheduler
	cleanup   *cleanup.Service
	watcher   *watcher.Watcher
	server    *api.Server
}

func buildDaemon(ctx context.Context, cfg config.Config, log *slog.Logger) (*daemon, error) {
	st, err := store.Open(store.Config{
		DataRoot:            cfg.Store.DataRoot,
		EmbeddingDimensions: cfg.Embedding.Dimensions,
		Logger:              log,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	availability, err := analyzer.Probe(cfg.Analyzer.SkillsRoot, cfg.Analyzer.RequiredSkills, cfg.Analyzer.OptionalSkills)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("probe analyzer skills: %w", err)
	}

	masker := masking.NewService(cfg.Masking)
	embedder := embedding.New(cfg.Embedding)
	discoverer := connections.New(st, cfg.Connections, log)

	bus := events.NewBus()
	wsManager := events.NewManager()
	bus.AttachHub(wsManager)

	dispatcher := dispatch.New(st, discoverer, embedder, masker, bus, cfg.Analyzer, cfg.Queue, availability.Names(), log)

	locks := session.NewLockRegistry()
	pool := queue.NewPool(st, locks, dispatcher, queue.ConfigFromQueueConfig(cfg.Queue))

	sched := scheduler.New(st, cfg.Schedule, cfg.Queue.MaxQueueSize, log)
	cleaner := cleanup.NewService(st, cfg.Retention, log)
	healthRunner := health.NewRunner(&cfg, st)

	extractor := segment.New(segment.Config{
		IdleTimeout:       time.Duration(cfg.Segment.IdleTimeoutMinutes) * time.Minute,
		StabilityLocal:    time.Duration(cfg.Segment.StabilityThresholdLocalMS) * time.Millisecond,
		StabilityExternal: time.Duration(cfg.Segment.StabilityThresholdExtMS) * time.Millisecond,
		MinEntries:        cfg.Segment.MinWorthAnalyzingTurns,
	})

	onChange := func(chg watcher.Change) {
		handleSessionChange(ctx, log, st, extractor, cfg.Queue.MaxQueueSize, chg)
	}
	w, err := watcher.New(watcher.Config{
		Roots:    []string{cfg.Store.SessionsRoot},
		Debounce: time.Duration(cfg.Watcher.DebounceMS) * time.Millisecond,
		Logger:   log,
	}, onChange)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build watcher: %w", err)
	}

	engine := query.NewEngine(st, cfg.Analyzer, cfg.Embedding, embedding.SingleAdapter{Provider: embedder})
	server := api.NewServer(&cfg, st, pool, bus, wsManager, healthRunner)
	server.SetQueryEngine(engine)
	if err := server.ValidateWiring(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("validate api wiring: %w", err)
	}

	return &daemon{
		cfg: cfg, log: log, st: st, bus: bus, wsManager: wsManager, health: healthRunner,
		pool: pool, scheduler: sched, cleanup: cleaner, watcher: w, server: server,
	}, nil
}

// handleSessionChange re-parses the changed session file and enqueues
// whatever analysis candidates the Segment Extractor proposes. It is the
// glue between the Session Watcher and the Job Queue: neither package
// depends on the other directly.
func handleSessionChange(ctx context.Context, log *slog.Logger, st *store.Store, extractor *segment.Extractor, maxQueueSize int, chg watcher.Change) {
	ps, err := session.Parse(chg.Path)
	if err != nil {
		log.Warn("re-parse changed session failed", "path", chg.Path, "error", err)
		return
	}

	promptVersion, _, err := st.LatestPromptVersion(ctx)
	var currentPromptVersion string
	if err == nil {
		currentPromptVersion = promptVersion.Label
	}

	candidates, err := extractor.Process(ps, time.Now(), false, currentPromptVersion, st)
	if err != nil {
		log.Warn("segment extraction failed", "path", chg.Path, "error", err)
		return
	}

	for _, cand := range candidates {
		job := store.Job{
			Kind:            store.JobKind(cand.Kind),
			SessionFile:     cand.Segment.SessionFile,
			SegmentBoundary: cand.Segment.NodeBoundary(),
			CompactionHint:  cand.CompactionHint,
			PromptVersion:   currentPromptVersion,
		}
		if _, err := st.Enqueue(ctx, job, maxQueueSize); err != nil {
			log.Warn("enqueue analysis candidate failed", "path", chg.Path, "boundary", job.SegmentBoundary, "error", err)
		}
	}
}

func (d *daemon) start(ctx context.Context) error {
	if err := d.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	d.pool.Start(ctx)
	if err := d.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.cleanup.Start(ctx)

	addr := fmt.Sprintf("%s:%d", d.cfg.API.Host, d.cfg.API.Port)
	go func() {
		if err := d.server.Start(addr); err != nil {
			d.log.Error("api server exited", "error", err)
		}
	}()
	return nil
}

func (d *daemon) shutdown() {
	d.watcher.Stop()
	d.scheduler.Stop()
	d.cleanup.Stop()
	d.pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.log.Warn("api server shutdown", "error", err)
	}
	d.wsManager.Shutdown()
}

func (d *daemon) close() {
	if err := d.st.Close(); err != nil {
		d.log.Warn("close store", "error", err)
	}
}
