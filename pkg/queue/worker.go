package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/brain-daemon/brain/pkg/session"
	"github.com/brain-daemon/brain/pkg/store"
)

// kinds is the full set a worker will lease from; store.Lease already
// orders initial ahead of everything else (spec.md §4.4 priority rule).
var kinds = []store.JobKind{
	store.JobInitial,
	store.JobReanalysis,
	store.JobConnectionDiscovery,
	store.JobEmbeddingBackfill,
	store.JobClustering,
	store.JobPatternAggregation,
}

// worker polls the job queue, holds a session-file lock for the duration
// of one job, and runs it through the Executor.
type worker struct {
	id       string
	st       *store.Store
	locks    *session.LockRegistry
	executor Executor
	cfg      Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        string
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, st *store.Store, locks *session.LockRegistry, executor Executor, cfg Config) *worker {
	return &worker{
		id:           id,
		st:           st,
		locks:        locks,
		executor:     executor,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		status:       "idle",
		lastActivity: time.Now(),
	}
}

func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrSessionLocked) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess leases one job, enforces the per-session-file advisory
// lock, executes it, and completes or retries it per the Outcome's error
// classification.
func (w *worker) pollAndProcess(ctx context.Context) error {
	job, err := w.st.Lease(ctx, w.id, kinds, w.cfg.LeaseDuration)
	if err != nil {
		return fmt.Errorf("lease job: %w", err)
	}
	if job == nil {
		return ErrNoJobsAvailable
	}

	if job.SessionFile != "" && !w.locks.TryLock(job.SessionFile) {
		// Another worker already holds this session file: release back to
		// pending uncounted and try again next poll (spec.md §5).
		if err := w.st.ReleaseAsPending(ctx, job.ID, w.id); err != nil {
			slog.Warn("release contended job as pending", "job_id", job.ID, "error", err)
		}
		return ErrSessionLocked
	}
	if job.SessionFile != "" {
		defer w.locks.Unlock(job.SessionFile)
	}

	log := slog.With("job_id", job.ID, "kind", job.Kind, "worker_id", w.id)
	log.Info("job leased")

	w.setStatus("working", job.ID)
	defer w.setStatus("idle", "")

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, job.ID)

	outcome := w.executor.Execute(jobCtx, *job)
	cancelHeartbeat()

	completeCtx := context.Background()

	if outcome.Interrupted || (jobCtx.Err() != nil && outcome.State == "") {
		// Shutdown interrupted execution before it could report a terminal
		// outcome: release the lease back to pending uncounted, same as
		// session-lock contention above, rather than classifying or
		// retry-incrementing it (spec.md §4.4).
		if err := w.st.ReleaseAsPending(completeCtx, job.ID, w.id); err != nil {
			log.Warn("release interrupted job as pending", "error", err)
		}
		log.Info("job interrupted by shutdown, released as pending")
		return nil
	}

	if err := w.st.Complete(completeCtx, job.ID, w.id, outcome.State, outcome.ErrorCategory, outcome.LastError); err != nil {
		if errors.Is(err, store.ErrStaleLease) {
			// Lease already expired and was swept; nothing more to do.
			log.Warn("lease expired before completion could be recorded")
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job completed", "outcome", outcome.State)
	return nil
}

// runHeartbeat periodically extends the held lease so a long-running
// analyzer invocation isn't swept out from under it.
func (w *worker) runHeartbeat(ctx context.Context, jobID string) {
	interval := w.cfg.LeaseDuration / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.st.Extend(ctx, jobID, w.id, w.cfg.LeaseDuration); err != nil {
				slog.Warn("lease extend failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	if base <= 0 {
		return time.Second
	}
	jitter := base / 4
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *worker) setStatus(status, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
