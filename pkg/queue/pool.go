package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brain-daemon/brain/pkg/session"
	"github.com/brain-daemon/brain/pkg/store"
)

// Pool manages a bounded set of workers leasing jobs from the Job Queue
// (spec.md §4.4), plus a background sweeper that reclaims expired leases.
type Pool struct {
	st       *store.Store
	locks    *session.LockRegistry
	executor Executor
	cfg      Config

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu          sync.Mutex
	lastSweep   time.Time
	leasesSwept int
}

// NewPool creates a pool that will spawn cfg.WorkerCount workers against
// st, serializing per-session-file access through locks.
func NewPool(st *store.Store, locks *session.LockRegistry, executor Executor, cfg Config) *Pool {
	cfg.setDefaults()
	return &Pool{
		st:       st,
		locks:    locks,
		executor: executor,
		cfg:      cfg,
		workers:  make([]*worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the configured worker goroutines and the lease sweeper. It
// is safe to call only once; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("starting worker pool", "worker_count", p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		id := fmt.Sprintf("worker-%d", i)
		w := newWorker(id, p.st, p.locks, p.executor, p.cfg)
		p.workers = append(p.workers, w)
		w.start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSweeper(ctx)
	}()
}

// Stop signals all workers and the sweeper to stop and waits for them to
// finish. Workers finish whatever job they currently hold (bounded by
// JobTimeout) before exiting (spec.md §4.4 graceful shutdown: interrupted
// work is released as pending rather than marked failed).
func (p *Pool) Stop() {
	slog.Info("stopping worker pool")

	for _, w := range p.workers {
		w.stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped")
}

func (p *Pool) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.st.Sweep(ctx)
			if err != nil {
				slog.Error("lease sweep failed", "error", err)
				continue
			}
			p.mu.Lock()
			p.lastSweep = time.Now()
			p.leasesSwept += n
			p.mu.Unlock()
			if n > 0 {
				slog.Info("swept expired leases", "count", n)
			}
		}
	}
}

// Health reports the pool's current worker and sweep state, for the
// daemon status HTTP endpoint.
func (p *Pool) Health() PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.health()
		workerStats[i] = h
		if h.Status == "working" {
			active++
		}
	}

	p.mu.Lock()
	lastSweep := p.lastSweep
	swept := p.leasesSwept
	p.mu.Unlock()

	return PoolHealth{
		TotalWorkers:  len(p.workers),
		ActiveWorkers: active,
		WorkerStats:   workerStats,
		LastSweep:     lastSweep,
		LeasesSwept:   swept,
	}
}
