package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveOldVersions enforces the retention policy on node version JSON
// files (spec.md §3 Node invariant: "retains prior versions as archived
// JSON (subject to retention policy)"). For every node id with more than
// retainCount versions, the oldest versions are moved from nodes/ to
// archive/nodes/ rather than deleted, preserving the audit trail while
// keeping the live archive directory bounded.
func (s *Store) ArchiveOldVersions(ctx context.Context, retainCount int) (int, error) {
	if retainCount <= 0 {
		return 0, fmt.Errorf("retainCount must be positive")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, version, timestamp FROM nodes ORDER BY id, version`)
	if err != nil {
		return 0, fmt.Errorf("list node versions for retention: %w", err)
	}

	type versionRow struct {
		id      string
		version int
		ts      time.Time
	}
	var all []versionRow
	for rows.Next() {
		var v versionRow
		if err := rows.Scan(&v.id, &v.version, &v.ts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan node version row: %w", err)
		}
		all = append(all, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	byID := make(map[string][]versionRow)
	for _, v := range all {
		byID[v.id] = append(byID[v.id], v)
	}

	archived := 0
	for id, versions := range byID {
		var current int
		if err := s.db.QueryRowContext(ctx, `SELECT current_version FROM current_nodes WHERE id = ?`, id).Scan(&current); err != nil {
			continue
		}
		if len(versions) <= retainCount {
			continue
		}
		cutoff := len(versions) - retainCount
		for _, v := range versions[:cutoff] {
			if v.version == current {
				continue // never archive the current version
			}
			if err := s.archiveOne(ctx, id, v.version, v.ts); err != nil {
				return archived, err
			}
			archived++
		}
	}
	return archived, nil
}

// archiveOne moves one node JSON version file from nodes/ to archive/nodes/,
// preserving the YYYY/MM layout.
func (s *Store) archiveOne(ctx context.Context, id string, version int, ts time.Time) error {
	src, err := s.nodeJSONPath(id, version, ts)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil // already archived or pruned by a prior run
	}

	dstDir := filepath.Join(s.dataRoot, "archive", "nodes", ts.Format("2006"), ts.Format("01"))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("archive node version %s v%d: %w", id, version, err)
	}
	s.log.Info("archived node version", "node_id", id, "version", version, "path", dst)
	return nil
}

// Stats aggregates counts used by the HTTP surface's /stats endpoint.
type Stats struct {
	TotalNodes      int
	NodesByOutcome  map[string]int
	NodesByProject  map[string]int
	NeedsReview     int
	QueuePending    int
	QueueLeased     int
	QueueFailed     int
	TotalEdges      int
	TotalDecisions  int
}

// Stats computes a snapshot of daemon-wide counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	st.NodesByOutcome = make(map[string]int)
	st.NodesByProject = make(map[string]int)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM current_nodes`).Scan(&st.TotalNodes); err != nil {
		return st, fmt.Errorf("count nodes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.outcome, n.project, n.needs_review FROM nodes n
		JOIN current_nodes c ON c.id = n.id AND c.current_version = n.version
	`)
	if err != nil {
		return st, fmt.Errorf("aggregate node stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome, project string
		var needsReview int
		if err := rows.Scan(&outcome, &project, &needsReview); err != nil {
			return st, fmt.Errorf("scan node stats row: %w", err)
		}
		if outcome != "" {
			st.NodesByOutcome[outcome]++
		}
		if project != "" {
			st.NodesByProject[project]++
		}
		if needsReview != 0 {
			st.NeedsReview++
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	for state, dst := range map[string]*int{"pending": &st.QueuePending, "leased": &st.QueueLeased, "failed": &st.QueueFailed} {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state = ?`, state).Scan(dst); err != nil {
			return st, fmt.Errorf("count jobs in state %s: %w", state, err)
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&st.TotalEdges); err != nil {
		return st, fmt.Errorf("count edges: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daemon_decisions`).Scan(&st.TotalDecisions); err != nil {
		return st, fmt.Errorf("count decisions: %w", err)
	}

	return st, nil
}

// PatternAggregate is one row of a failure/lesson/model pattern aggregate
// (spec.md §4.12).
type PatternAggregate struct {
	Key   string
	Count int
}

// FailurePatterns groups needs-review-excluded nodes by outcome (spec.md
// Open Question decision: salvaged nodes are excluded from aggregation
// until reviewed).
func (s *Store) FailurePatterns(ctx context.Context) ([]PatternAggregate, error) {
	return s.groupBy(ctx, "outcome")
}

// ModelPatterns groups nodes by the language/model-adjacent classification
// dimension available on the relational index.
func (s *Store) ModelPatterns(ctx context.Context) ([]PatternAggregate, error) {
	return s.groupBy(ctx, "language")
}

func (s *Store) groupBy(ctx context.Context, column string) ([]PatternAggregate, error) {
	// column is one of a fixed internal set, never user input.
	query := fmt.Sprintf(`
		SELECT n.%s, COUNT(*) FROM nodes n
		JOIN current_nodes c ON c.id = n.id AND c.current_version = n.version
		WHERE n.needs_review = 0 AND n.%s IS NOT NULL AND n.%s != ''
		GROUP BY n.%s ORDER BY COUNT(*) DESC
	`, column, column, column, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("group nodes by %s: %w", column, err)
	}
	defer rows.Close()

	var out []PatternAggregate
	for rows.Next() {
		var p PatternAggregate
		if err := rows.Scan(&p.Key, &p.Count); err != nil {
			return nil, fmt.Errorf("scan pattern aggregate: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
