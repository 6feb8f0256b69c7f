package queue

import (
	"context"
	"testing"
	"time"

	"github.com/brain-daemon/brain/pkg/session"
	"github.com/brain-daemon/brain/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{DataRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type stubExecutor struct {
	outcome Outcome
	calls   chan store.Job
}

func (s *stubExecutor) Execute(ctx context.Context, job store.Job) Outcome {
	if s.calls != nil {
		s.calls <- job
	}
	return s.outcome
}

func TestPoolProcessesLeasedJob(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Enqueue(ctx, store.Job{Kind: store.JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "b1", MaxRetries: 3}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	calls := make(chan store.Job, 1)
	exec := &stubExecutor{outcome: Outcome{State: store.JobSucceeded}, calls: calls}
	pool := NewPool(st, session.NewLockRegistry(), exec, Config{WorkerCount: 1, PollInterval: 10 * time.Millisecond, LeaseDuration: time.Minute})

	runCtx, cancel := context.WithCancel(ctx)
	pool.Start(runCtx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	select {
	case job := <-calls:
		if job.ID != id {
			t.Fatalf("expected job %s, got %s", id, job.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for executor to be invoked")
	}

	deadline := time.Now().Add(time.Second)
	for {
		got, err := st.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.State == store.JobSucceeded {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached succeeded state, got %s", got.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPoolSkipsLockedSessionFile(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	locks := session.NewLockRegistry()

	if !locks.TryLock("held.jsonl") {
		t.Fatal("expected to acquire lock")
	}
	defer locks.Unlock("held.jsonl")

	id, err := st.Enqueue(ctx, store.Job{Kind: store.JobInitial, SessionFile: "held.jsonl", SegmentBoundary: "b1", MaxRetries: 3}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	exec := &stubExecutor{outcome: Outcome{State: store.JobSucceeded}}
	pool := NewPool(st, locks, exec, Config{WorkerCount: 1, PollInterval: 10 * time.Millisecond, LeaseDuration: time.Minute})

	runCtx, cancel := context.WithCancel(ctx)
	pool.Start(runCtx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	pool.Stop()

	got, err := st.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != store.JobPending {
		t.Fatalf("expected job to remain pending while session file is locked, got %s", got.State)
	}
}

func TestPoolReleasesInterruptedJobAsPendingUncounted(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Enqueue(ctx, store.Job{Kind: store.JobInitial, SessionFile: "a.jsonl", SegmentBoundary: "b1", MaxRetries: 3}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	calls := make(chan store.Job, 1)
	exec := &stubExecutor{outcome: Outcome{Interrupted: true}, calls: calls}
	pool := NewPool(st, session.NewLockRegistry(), exec, Config{WorkerCount: 1, PollInterval: 10 * time.Millisecond, LeaseDuration: time.Minute})

	runCtx, cancel := context.WithCancel(ctx)
	pool.Start(runCtx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for executor to be invoked")
	}

	deadline := time.Now().Add(time.Second)
	for {
		got, err := st.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.State == store.JobPending {
			if got.RetryCount != 0 {
				t.Fatalf("interrupted job must not increment retry_count, got %d", got.RetryCount)
			}
			return
		}
		if got.State != store.JobLeased && time.Now().After(deadline) {
			t.Fatalf("expected interrupted job to end up pending uncounted, got state=%s retry_count=%d", got.State, got.RetryCount)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never released back to pending, got %s", got.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
