package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind enumerates the work a Job represents (spec.md §3).
type JobKind string

const (
	JobInitial             JobKind = "initial"
	JobReanalysis          JobKind = "reanalysis"
	JobConnectionDiscovery JobKind = "connection_discovery"
	JobEmbeddingBackfill   JobKind = "embedding_backfill"
	JobClustering          JobKind = "clustering"
	JobPatternAggregation  JobKind = "pattern_aggregation"
)

// JobState enumerates a Job's lifecycle state.
type JobState string

const (
	JobPending   JobState = "pending"
	JobLeased    JobState = "leased"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// ErrorCategory classifies why a job failed, driving retry policy
// (spec.md §4.5).
type ErrorCategory string

const (
	ErrorTransient   ErrorCategory = "transient"
	ErrorPermanent   ErrorCategory = "permanent"
	ErrorUnknown     ErrorCategory = "unknown"
	ErrorMaxRetries  ErrorCategory = "max_retries"
)

// Job is a durable unit of work tracked in the jobs table.
type Job struct {
	ID              string
	Kind            JobKind
	SessionFile     string
	SegmentBoundary string
	State           JobState
	LeaseExpiresAt  time.Time
	LeasedBy        string
	RetryCount      int
	MaxRetries      int
	LastError       string
	ErrorCategory   ErrorCategory
	EnqueuedAt      time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	PromptVersion   string
	// CompactionHint names the node boundary of the immediately preceding
	// sub-segment in a multi-compaction split (spec.md §4.2), empty for
	// every job except an initial/reanalysis job produced from a segment
	// the extractor flagged with Candidate.CompactionHint. The Dispatcher
	// uses it to record a structural "compaction" edge once this job's
	// node is saved.
	CompactionHint string
}

// ErrQueueFull is returned by Enqueue when the pending count already meets
// the configured cap.
var ErrQueueFull = fmt.Errorf("queue_full")

// ErrStaleLease is returned by Complete/Extend when the caller is no longer
// the current leaseholder (its lease expired and was swept, possibly
// re-leased by another worker).
var ErrStaleLease = fmt.Errorf("stale lease")

// Enqueue atomically inserts a job. If a non-terminal row already exists
// for (session_file, segment_boundary, kind) the existing id is returned
// instead (spec.md §4.3) — the unique partial index on the jobs table
// (migration 000001) makes this a conflict the insert can detect.
func (s *Store) Enqueue(ctx context.Context, job Job, maxQueueSize int) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = JobPending
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	if maxQueueSize > 0 {
		var pending int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state = 'pending'`).Scan(&pending); err != nil {
			return "", fmt.Errorf("count pending jobs: %w", err)
		}
		if pending >= maxQueueSize {
			return "", ErrQueueFull
		}
	}

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE session_file IS ? AND segment_boundary IS ? AND kind = ?
		  AND state IN ('pending', 'leased')
	`, job.SessionFile, job.SegmentBoundary, string(job.Kind)).Scan(&existing)
	if err == nil {
		if cerr := tx.Commit(); cerr != nil {
			return "", fmt.Errorf("commit enqueue dedup read: %w", cerr)
		}
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("check existing job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, kind, session_file, segment_boundary, state, retry_count,
			max_retries, enqueued_at, prompt_version, compaction_hint
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, job.ID, string(job.Kind), job.SessionFile, job.SegmentBoundary, string(job.State), job.MaxRetries, job.EnqueuedAt, job.PromptVersion, job.CompactionHint)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit enqueue: %w", err)
	}
	return job.ID, nil
}

// Lease atomically selects the oldest eligible pending (or expired-lease)
// job whose kind is in kinds, marks it leased, and returns it. SQLite has
// no SELECT ... FOR UPDATE SKIP LOCKED; running the select+claim inside a
// single transaction relies on the store's single-writer serialization
// (§5) to make it atomic — the SQLite-native equivalent of that pattern.
func (s *Store) Lease(ctx context.Context, workerID string, kinds []JobKind, leaseDuration time.Duration) (*Job, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin lease transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	placeholders := make([]any, 0, len(kinds)+2)
	query := `SELECT id, kind, session_file, segment_boundary, state, retry_count, max_retries,
		prompt_version, enqueued_at, compaction_hint FROM jobs WHERE kind IN (`
	for i, k := range kinds {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders = append(placeholders, string(k))
	}
	query += `) AND (state = 'pending' OR (state = 'leased' AND lease_expires_at < ?))
		ORDER BY CASE kind WHEN 'initial' THEN 0 ELSE 1 END, enqueued_at ASC, id ASC LIMIT 1`
	placeholders = append(placeholders, now)

	var j Job
	var sessionFile, boundary, promptVersion, compactionHint sql.NullString
	row := tx.QueryRowContext(ctx, query, placeholders...)
	err = row.Scan(&j.ID, &j.Kind, &sessionFile, &boundary, &j.State, &j.RetryCount, &j.MaxRetries, &promptVersion, &j.EnqueuedAt, &compactionHint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select leasable job: %w", err)
	}
	j.SessionFile = sessionFile.String
	j.SegmentBoundary = boundary.String
	j.PromptVersion = promptVersion.String
	j.CompactionHint = compactionHint.String

	leaseExpires := now.Add(leaseDuration)
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'leased', lease_expires_at = ?, leased_by = ?, started_at = COALESCE(started_at, ?)
		WHERE id = ?
	`, leaseExpires, workerID, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}

	j.State = JobLeased
	j.LeaseExpiresAt = leaseExpires
	j.LeasedBy = workerID
	j.StartedAt = now
	return &j, nil
}

// Extend extends a held lease. It fails with ErrStaleLease if the caller
// is not the current leaseholder (lease already expired/reassigned).
func (s *Store) Extend(ctx context.Context, jobID, workerID string, leaseDuration time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_expires_at = ?
		WHERE id = ? AND state = 'leased' AND leased_by = ? AND lease_expires_at > ?
	`, time.Now().Add(leaseDuration), jobID, workerID, time.Now())
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrStaleLease
	}
	return nil
}

// Complete transitions a leased job to a terminal state. It is rejected if
// the caller's lease has expired (possibly reassigned by sweep to another
// worker), per spec.md §4.3's lease-safety invariant.
func (s *Store) Complete(ctx context.Context, jobID, workerID string, outcome JobState, errCategory ErrorCategory, lastError string) error {
	if outcome != JobSucceeded && outcome != JobFailed && outcome != JobCancelled {
		return fmt.Errorf("invalid terminal outcome %q", outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete transaction: %w", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	var state string
	var leasedBy sql.NullString
	var leaseExpires sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT state, leased_by, lease_expires_at, retry_count, max_retries FROM jobs WHERE id = ?`, jobID).
		Scan(&state, &leasedBy, &leaseExpires, &retryCount, &maxRetries)
	if err == sql.ErrNoRows {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read job for complete: %w", err)
	}
	if state != string(JobLeased) || leasedBy.String != workerID || !leaseExpires.Valid || !leaseExpires.Time.After(time.Now()) {
		return ErrStaleLease
	}

	if outcome == JobFailed && errCategory != ErrorMaxRetries {
		retryCount++
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, retry_count = ?, last_error = ?, error_category = ?,
			completed_at = ?, lease_expires_at = NULL, leased_by = NULL
		WHERE id = ?
	`, string(outcome), retryCount, lastError, string(errCategory), time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("update job terminal state: %w", err)
	}

	if outcome == JobFailed && errCategory != ErrorPermanent && errCategory != ErrorMaxRetries && retryCount <= maxRetries {
		// Retryable classification: put it back to pending for another lease.
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET state = 'pending', completed_at = NULL WHERE id = ?`, jobID)
		if err != nil {
			return fmt.Errorf("requeue retryable job: %w", err)
		}
	}

	return tx.Commit()
}

// Sweep finds leases past expiry and transitions them back to pending
// (unless retries are exhausted, in which case it fails the job with
// error_category=max_retries). retry_count is NOT incremented here — lease
// expiry alone never counts as a classified failure (spec.md §4.3).
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, retry_count, max_retries FROM jobs
		WHERE state = 'leased' AND lease_expires_at < ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("query expired leases: %w", err)
	}
	type expired struct {
		id                     string
		retryCount, maxRetries int
	}
	var list []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.retryCount, &e.maxRetries); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired lease: %w", err)
		}
		list = append(list, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var swept int
	for _, e := range list {
		var err error
		if e.retryCount >= e.maxRetries {
			_, err = s.db.ExecContext(ctx, `
				UPDATE jobs SET state = 'failed', error_category = 'max_retries',
					lease_expires_at = NULL, leased_by = NULL, completed_at = ?
				WHERE id = ? AND state = 'leased' AND lease_expires_at < ?
			`, now, e.id, now)
		} else {
			_, err = s.db.ExecContext(ctx, `
				UPDATE jobs SET state = 'pending', lease_expires_at = NULL, leased_by = NULL
				WHERE id = ? AND state = 'leased' AND lease_expires_at < ?
			`, e.id, now)
		}
		if err != nil {
			return swept, fmt.Errorf("sweep job %s: %w", e.id, err)
		}
		swept++
	}
	return swept, nil
}

// ReleaseAsPending returns a leased job to pending without classifying it
// as a failure. Used on orderly worker-pool shutdown (spec.md §4.4): a
// subprocess interrupted by shutdown should be retried, not penalized.
func (s *Store) ReleaseAsPending(ctx context.Context, jobID, workerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'pending', lease_expires_at = NULL, leased_by = NULL
		WHERE id = ? AND state = 'leased' AND leased_by = ?
	`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("release job as pending: %w", err)
	}
	return nil
}

// HasNonTerminalJob reports whether a pending/leased job already targets
// (sessionFile, boundary, kind). Implements segment.Deduper.
func (s *Store) HasNonTerminalJob(sessionFile, boundary, kind string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE session_file = ? AND segment_boundary = ? AND kind = ? AND state IN ('pending', 'leased')
	`, sessionFile, boundary, kind).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check non-terminal job: %w", err)
	}
	return n > 0, nil
}

// ExistingNodePromptVersion returns the prompt_version the current node
// for (sessionFile, boundary) was analyzed with, if one exists. Implements
// segment.Deduper.
func (s *Store) ExistingNodePromptVersion(sessionFile, boundary string) (string, bool, error) {
	id := NodeID(sessionFile, boundary)
	var version sql.NullString
	err := s.db.QueryRow(`
		SELECT n.prompt_version FROM nodes n
		JOIN current_nodes c ON c.id = n.id AND c.current_version = n.version
		WHERE n.id = ?
	`, id).Scan(&version)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read existing node prompt version: %w", err)
	}
	return version.String, true, nil
}

// GetJob returns a job by id, for HTTP surface / diagnostics.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	var sessionFile, boundary, promptVersion, lastError, errCategory, leasedBy, compactionHint sql.NullString
	var leaseExpires, startedAt, completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, session_file, segment_boundary, state, lease_expires_at, leased_by,
			retry_count, max_retries, last_error, error_category, enqueued_at, started_at,
			completed_at, prompt_version, compaction_hint
		FROM jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.Kind, &sessionFile, &boundary, &j.State, &leaseExpires, &leasedBy,
		&j.RetryCount, &j.MaxRetries, &lastError, &errCategory, &j.EnqueuedAt, &startedAt,
		&completedAt, &promptVersion, &compactionHint)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.SessionFile = sessionFile.String
	j.SegmentBoundary = boundary.String
	j.PromptVersion = promptVersion.String
	j.CompactionHint = compactionHint.String
	j.LastError = lastError.String
	j.ErrorCategory = ErrorCategory(errCategory.String)
	j.LeasedBy = leasedBy.String
	if leaseExpires.Valid {
		j.LeaseExpiresAt = leaseExpires.Time
	}
	if startedAt.Valid {
		j.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = completedAt.Time
	}
	return &j, nil
}

// QueueStats summarizes queue depth by state, for the HTTP status endpoint.
type QueueStats struct {
	Pending   int
	Leased    int
	Succeeded int
	Failed    int
	Cancelled int
}

// Stats returns job counts grouped by state.
func (s *Store) QueueStats(ctx context.Context) (QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	var qs QueueStats
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return QueueStats{}, err
		}
		switch JobState(state) {
		case JobPending:
			qs.Pending = n
		case JobLeased:
			qs.Leased = n
		case JobSucceeded:
			qs.Succeeded = n
		case JobFailed:
			qs.Failed = n
		case JobCancelled:
			qs.Cancelled = n
		}
	}
	return qs, rows.Err()
}

// PruneCompletedJobs deletes terminal job rows (succeeded, failed,
// cancelled) completed before olderThan. The Job Queue keeps terminal
// rows around only long enough to be inspected via the daemon/status API
// and for QueueStats; they carry no archival value once past their TTL,
// unlike node versions which ArchiveOldVersions preserves.
func (s *Store) PruneCompletedJobs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE state IN ('succeeded', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL AND completed_at < ?
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune completed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
