package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EdgeKind enumerates the relation a connection represents (spec.md §3).
type EdgeKind string

const (
	EdgeSemantic     EdgeKind = "semantic"
	EdgeFileOverlap  EdgeKind = "file_overlap"
	EdgeTemporal     EdgeKind = "temporal"
	EdgeCompaction   EdgeKind = "compaction"
	EdgeFork         EdgeKind = "fork"
)

// Edge is a typed directed relation between two nodes.
type Edge struct {
	SourceNode string
	TargetNode string
	Kind       EdgeKind
	Weight     float64
	Evidence   string
	CreatedAt  time.Time
}

// UpsertEdge inserts an edge or, if (source, target, kind) already exists,
// updates its weight/evidence/created_at (spec.md §4.7: "re-runs update the
// weight and created_at").
func (s *Store) UpsertEdge(ctx context.Context, e Edge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (source_node, target_node, kind, weight, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_node, target_node, kind) DO UPDATE SET
			weight = excluded.weight, evidence = excluded.evidence, created_at = excluded.created_at
	`, e.SourceNode, e.TargetNode, string(e.Kind), e.Weight, e.Evidence, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

// EdgesFor returns every edge touching nodeID, in either direction.
func (s *Store) EdgesFor(ctx context.Context, nodeID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_node, target_node, kind, weight, evidence, created_at
		FROM edges WHERE source_node = ? OR target_node = ?
	`, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		var kind string
		if err := rows.Scan(&e.SourceNode, &e.TargetNode, &kind, &e.Weight, &e.Evidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Kind = EdgeKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllEdgesAboveWeight returns every edge at or above minWeight, for the
// Connection Discoverer's clustering pass (spec.md §4.8 "clustering").
func (s *Store) AllEdgesAboveWeight(ctx context.Context, minWeight float64) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_node, target_node, kind, weight, evidence, created_at
		FROM edges WHERE weight >= ?
	`, minWeight)
	if err != nil {
		return nil, fmt.Errorf("query edges above weight: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		var kind string
		if err := rows.Scan(&e.SourceNode, &e.TargetNode, &kind, &e.Weight, &e.Evidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Kind = EdgeKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastConnectionDiscoveryRun returns the most recent created_at among a
// node's semantic/file_overlap/temporal edges, used to enforce the
// Connection Discoverer's cooldown (spec.md §4.7).
func (s *Store) LastConnectionDiscoveryRun(ctx context.Context, nodeID string) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM edges
		WHERE (source_node = ? OR target_node = ?) AND kind IN ('semantic', 'file_overlap', 'temporal')
	`, nodeID, nodeID).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("last connection discovery run: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}
