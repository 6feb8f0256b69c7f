package store

import (
	"context"
	"fmt"
)

// LessonPatterns tallies lesson occurrences by bucket level across current
// node versions, excluding nodes flagged needs_review (spec.md Open
// Question decision). Lessons live only in the canonical JSON, not the
// relational index, so this walks the current-version JSON files rather
// than running a SQL aggregate.
func (s *Store) LessonPatterns(ctx context.Context, limit int) ([]PatternAggregate, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id FROM nodes n
		JOIN current_nodes c ON c.id = n.id AND c.current_version = n.version
		WHERE n.needs_review = 0
		ORDER BY n.timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list nodes for lesson patterns: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, id := range ids {
		node, err := s.GetNode(ctx, id)
		if err != nil {
			continue // archived/missing JSON shouldn't abort the whole aggregate
		}
		for level, lessons := range node.Lessons {
			counts[string(level)] += len(lessons)
		}
	}

	out := make([]PatternAggregate, 0, len(counts))
	for k, v := range counts {
		out = append(out, PatternAggregate{Key: k, Count: v})
	}
	return out, nil
}
