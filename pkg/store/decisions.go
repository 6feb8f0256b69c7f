package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserFeedback is the operator's after-the-fact rating of a daemon decision.
type UserFeedback string

const (
	FeedbackGood UserFeedback = "good"
	FeedbackBad  UserFeedback = "bad"
	FeedbackNone UserFeedback = ""
)

// Decision is a purely audit-trail record of something the daemon decided
// (spec.md §3 "Daemon decision"), e.g. "skip reanalysis of X: prompt
// unchanged" or "flag node Y needs_review".
type Decision struct {
	ID            string
	Timestamp     time.Time
	Decision      string
	Reasoning     string
	SourceProject string
	UserFeedback  UserFeedback
}

// RecordDecision appends a decision to the audit trail.
func (s *Store) RecordDecision(ctx context.Context, d Decision) (Decision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_decisions (id, timestamp, decision, reasoning, source_project, user_feedback, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Timestamp, d.Decision, d.Reasoning, d.SourceProject, string(d.UserFeedback), now, now)
	if err != nil {
		return Decision{}, fmt.Errorf("record decision: %w", err)
	}
	return d, nil
}

// UpdateDecisionFeedback sets the operator feedback on a previously
// recorded decision.
func (s *Store) UpdateDecisionFeedback(ctx context.Context, id string, feedback UserFeedback) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE daemon_decisions SET user_feedback = ?, updated_at = ? WHERE id = ?
	`, string(feedback), time.Now(), id)
	if err != nil {
		return fmt.Errorf("update decision feedback: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListDecisions returns the most recent decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, decision, reasoning, source_project, user_feedback
		FROM daemon_decisions ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var reasoning, sourceProject, feedback sql.NullString
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.Decision, &reasoning, &sourceProject, &feedback); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Reasoning = reasoning.String
		d.SourceProject = sourceProject.String
		d.UserFeedback = UserFeedback(feedback.String)
		out = append(out, d)
	}
	return out, rows.Err()
}
