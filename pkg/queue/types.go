// Package queue implements the Worker Pool (spec.md §4.4): a bounded set
// of goroutines that lease jobs from the Job Queue (pkg/store), execute
// them through a pluggable Executor, and complete or retry them according
// to the Analyzer Invoker's error classification.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/store"
)

// ErrNoJobsAvailable is returned by pollAndProcess when the lease call
// finds nothing to do; the worker sleeps a jittered poll interval rather
// than busy-looping.
var ErrNoJobsAvailable = errors.New("no jobs available")

// ErrSessionLocked is returned when the leased job's session_file is
// already held by another worker (spec.md §5 per-session serialization).
// The job is released back to pending, uncounted against retries, and the
// worker moves on to poll again.
var ErrSessionLocked = errors.New("session file locked by another worker")

// Outcome is what one job execution produced: a terminal queue state plus,
// on failure, the classification driving retry policy (spec.md §4.5).
// Interrupted is set instead of State when a shutdown cancelled the job
// mid-execution; the pool releases it back to pending uncounted rather
// than completing or retry-classifying it (spec.md §4.4).
type Outcome struct {
	State         store.JobState
	ErrorCategory store.ErrorCategory
	LastError     string
	Interrupted   bool
}

// Executor turns one leased job into an Outcome. Implementations dispatch
// on job.Kind: initial/reanalysis invoke the external analyzer, while
// connection_discovery/embedding_backfill/clustering/pattern_aggregation
// run their own scheduled logic (pkg/dispatch ties these to pkg/analyzer,
// pkg/connections, and the Node Store). Execute must itself respect ctx
// cancellation so a shutdown signal can interrupt in-flight work.
type Executor interface {
	Execute(ctx context.Context, job store.Job) Outcome
}

// Config tunes the Worker Pool (spec.md §4.4 defaults, sourced from
// pkg/config.QueueConfig). The shutdown SIGTERM/SIGKILL grace period lives
// on config.QueueConfig.DrainGraceSeconds directly and is read by
// pkg/dispatch when it builds each analyzer.Request — the pool itself never
// needs it, since it only ever cancels jobCtx and waits for the executor to
// return.
type Config struct {
	WorkerCount   int
	LeaseDuration time.Duration
	SweepInterval time.Duration
	JobTimeout    time.Duration
	PollInterval  time.Duration
}

// ConfigFromQueueConfig maps the on-disk queue configuration (spec.md §4.4)
// onto the durations the pool actually runs on.
func ConfigFromQueueConfig(qc config.QueueConfig) Config {
	return Config{
		WorkerCount:   qc.ParallelWorkers,
		LeaseDuration: time.Duration(qc.LeaseSeconds) * time.Second,
		SweepInterval: time.Duration(qc.SweepIntervalSeconds) * time.Second,
		JobTimeout:    time.Duration(qc.AnalysisTimeoutMinutes) * time.Minute,
	}
}

func (c *Config) setDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.LeaseDuration / 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// WorkerHealth reports one worker's current state, for /api/v1/status.
type WorkerHealth struct {
	ID            string
	Status        string // "idle" or "working"
	CurrentJobID  string
	JobsProcessed int
	LastActivity  time.Time
}

// PoolHealth aggregates worker and sweep state.
type PoolHealth struct {
	TotalWorkers  int
	ActiveWorkers int
	WorkerStats   []WorkerHealth
	LastSweep     time.Time
	LeasesSwept   int
}
