package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cluster groups node ids discovered to share a common theme by the
// scheduled clustering producer (spec.md §4.8).
type Cluster struct {
	ID        string
	Label     string
	Project   string
	NodeIDs   []string
	CreatedAt time.Time
}

// SaveCluster inserts a single cluster row. Used on its own only by tests;
// a clustering pass should go through ReplaceClusters so the prior snapshot
// is actually superseded rather than accumulating alongside it.
func (s *Store) SaveCluster(ctx context.Context, c Cluster) (Cluster, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Cluster{}, fmt.Errorf("begin save cluster transaction: %w", err)
	}
	defer tx.Rollback()

	saved, err := insertClusterRow(ctx, tx, c)
	if err != nil {
		return Cluster{}, err
	}
	if err := tx.Commit(); err != nil {
		return Cluster{}, fmt.Errorf("commit save cluster transaction: %w", err)
	}
	return saved, nil
}

// ReplaceClusters atomically deletes every existing cluster and inserts the
// given set in its place, so a clustering run replaces the prior snapshot
// rather than accumulating a second, overlapping one alongside it (spec.md
// §4.8). Clustering is a full recompute over every edge above threshold each
// run, so the new set always supersedes the whole table, not just the rows
// for projects the run happened to touch.
func (s *Store) ReplaceClusters(ctx context.Context, clusters []Cluster) ([]Cluster, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace clusters transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM clusters`); err != nil {
		return nil, fmt.Errorf("clear prior cluster snapshot: %w", err)
	}

	saved := make([]Cluster, 0, len(clusters))
	for _, c := range clusters {
		s, err := insertClusterRow(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		saved = append(saved, s)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace clusters transaction: %w", err)
	}
	return saved, nil
}

func insertClusterRow(ctx context.Context, tx *sql.Tx, c Cluster) (Cluster, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	nodeIDsJSON, err := json.Marshal(c.NodeIDs)
	if err != nil {
		return Cluster{}, fmt.Errorf("marshal cluster node ids: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO clusters (id, label, project, node_ids_json, created_at) VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Label, c.Project, string(nodeIDsJSON), c.CreatedAt)
	if err != nil {
		return Cluster{}, fmt.Errorf("save cluster: %w", err)
	}
	return c, nil
}

// ListClusters returns clusters for a project (or all, if empty), newest
// first.
func (s *Store) ListClusters(ctx context.Context, project string) ([]Cluster, error) {
	query := `SELECT id, label, project, node_ids_json, created_at FROM clusters`
	var args []any
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		var c Cluster
		var nodeIDsJSON string
		if err := rows.Scan(&c.ID, &c.Label, &c.Project, &nodeIDsJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		_ = json.Unmarshal([]byte(nodeIDsJSON), &c.NodeIDs)
		out = append(out, c)
	}
	return out, rows.Err()
}
