package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DataRoot: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueDedupReturnsExistingID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	id2, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestEnqueueQueueFull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 1)
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "b.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 1)
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestLeaseSafety(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	leased, err := s.Lease(ctx, "worker-a", []JobKind{JobInitial}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, leased)
	require.Equal(t, id, leased.ID)

	// A second lease attempt must not return the same job while the lease
	// is still valid.
	none, err := s.Lease(ctx, "worker-b", []JobKind{JobInitial}, time.Minute)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestLeaseExpirySafety(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	leased, err := s.Lease(ctx, "worker-a", []JobKind{JobInitial}, -time.Second) // already expired
	require.NoError(t, err)
	require.NotNil(t, leased)

	// worker-b can now re-lease it since the lease is already expired.
	relet, err := s.Lease(ctx, "worker-b", []JobKind{JobInitial}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, relet)
	require.Equal(t, leased.ID, relet.ID)

	// worker-a's complete must be rejected: its lease is stale.
	err = s.Complete(ctx, leased.ID, "worker-a", JobSucceeded, "", "")
	require.ErrorIs(t, err, ErrStaleLease)

	// worker-b's complete succeeds.
	err = s.Complete(ctx, leased.ID, "worker-b", JobSucceeded, "", "")
	require.NoError(t, err)
}

func TestSweepRecoversExpiredLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	_, err = s.Lease(ctx, "worker-a", []JobKind{JobInitial}, -time.Second)
	require.NoError(t, err)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := s.Lease(ctx, "worker-c", []JobKind{JobInitial}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestSweepFailsJobAtMaxRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 0}, 0)
	require.NoError(t, err)

	_, err = s.Lease(ctx, "worker-a", []JobKind{JobInitial}, -time.Second)
	require.NoError(t, err)

	_, err = s.Sweep(ctx)
	require.NoError(t, err)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, JobFailed, job.State)
	require.Equal(t, ErrorMaxRetries, job.ErrorCategory)
}

func TestCompleteFailedRetryableRequeues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	job, err := s.Lease(ctx, "worker-a", []JobKind{JobInitial}, time.Minute)
	require.NoError(t, err)

	err = s.Complete(ctx, job.ID, "worker-a", JobFailed, ErrorTransient, "rate limited")
	require.NoError(t, err)

	got, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, JobPending, got.State)
	require.Equal(t, 1, got.RetryCount)
}

func TestCompletePermanentDoesNotRequeue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	job, err := s.Lease(ctx, "worker-a", []JobKind{JobInitial}, time.Minute)
	require.NoError(t, err)

	err = s.Complete(ctx, job.ID, "worker-a", JobFailed, ErrorPermanent, "malformed header")
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, got.State)
	require.Equal(t, 0, got.RetryCount)
}

func TestPriorityInitialBeforeReanalysis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, Job{Kind: JobReanalysis, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "b.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	job, err := s.Lease(ctx, "worker-a", []JobKind{JobInitial, JobReanalysis}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, JobInitial, job.Kind)
}

func TestHasNonTerminalJobAndPromptVersionDedupHelpers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasNonTerminalJob("a.jsonl", "tail", "initial")
	require.NoError(t, err)
	require.False(t, has)

	_, err = s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)

	has, err = s.HasNonTerminalJob("a.jsonl", "tail", "initial")
	require.NoError(t, err)
	require.True(t, has)

	_, exists, err := s.ExistingNodePromptVersion("a.jsonl", "tail")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPruneCompletedJobsRemovesOldTerminalRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, Job{Kind: JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "tail", MaxRetries: 3}, 0)
	require.NoError(t, err)
	job, err := s.Lease(ctx, "worker-1", []JobKind{JobInitial}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, s.Complete(ctx, id, "worker-1", JobSucceeded, "", ""))

	// completed just now: not yet past any TTL
	n, err := s.PruneCompletedJobs(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// a cutoff in the future catches the row regardless of its exact
	// completed_at timestamp
	n, err = s.PruneCompletedJobs(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetJob(ctx, id)
	require.Error(t, err)
}
