package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SaveNode persists a new version of a node. Commit ordering follows the
// spec exactly: write the JSON file first (temp file, fsync, rename), then
// a single transaction updates the relational index and FTS atomically.
// The caller is responsible for publishing the resulting event afterward;
// SaveNode itself only guarantees storage-layer consistency.
//
// node.Version is assigned here: it is always the prior version (if any)
// plus one, so versions are monotonic per id with no gaps.
func (s *Store) SaveNode(ctx context.Context, node Node) (Node, error) {
	prevVersion, err := s.currentVersion(ctx, node.ID)
	if err != nil {
		return Node{}, err
	}
	node.Version = prevVersion + 1

	path, err := s.nodeJSONPath(node.ID, node.Version, node.Metadata.Timestamp)
	if err != nil {
		return Node{}, err
	}
	if err := writeJSONAtomic(path, node); err != nil {
		return Node{}, fmt.Errorf("write node JSON: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Node{}, fmt.Errorf("begin node transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertNodeRow(ctx, tx, node); err != nil {
		return Node{}, err
	}
	if err := upsertCurrentVersion(ctx, tx, node.ID, node.Version); err != nil {
		return Node{}, err
	}
	if err := tx.Commit(); err != nil {
		return Node{}, fmt.Errorf("commit node transaction: %w", err)
	}

	if err := s.indexNodeForSearch(node); err != nil {
		// FTS is a derived index; log-and-continue would hide a real
		// consistency bug, so this surfaces to the caller, who classifies
		// and retries the job rather than leaving the index stale.
		return node, fmt.Errorf("index node for full-text search: %w", err)
	}

	if len(node.Semantic.Embedding) > 0 {
		if err := s.UpsertEmbedding(ctx, node.ID, node.Semantic.EmbeddingModel, node.Semantic.Embedding); err != nil {
			return node, fmt.Errorf("upsert node embedding: %w", err)
		}
	}

	return node, nil
}

func (s *Store) currentVersion(ctx context.Context, id string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT current_version FROM current_nodes WHERE id = ?`, id).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read current node version: %w", err)
	}
	return v, nil
}

func insertNodeRow(ctx context.Context, tx *sql.Tx, n Node) error {
	// embedding_model must be bound as NULL, not "", when unset: ListNodes'
	// MissingEmbedding filter matches on "IS NULL" for the embedding_backfill
	// job kind to find candidates.
	var embeddingModel sql.NullString
	if n.Semantic.EmbeddingModel != "" {
		embeddingModel = sql.NullString{String: n.Semantic.EmbeddingModel, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (
			id, version, type, project, language, outcome,
			has_clear_goal, is_new_project, summary, timestamp,
			source_session_path, source_boundary, prompt_version,
			embedding_model, needs_review, token_usage, cost_usd, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.Version, n.Classification.Type, n.Classification.Project, n.Classification.Language, string(n.Content.Outcome),
		boolToInt(n.Classification.HadClearGoal), boolToInt(n.Classification.IsNewProject), n.Content.Summary, n.Metadata.Timestamp,
		n.Metadata.SourceSessionPath, n.Metadata.SourceBoundary, n.Metadata.PromptVersion,
		embeddingModel, boolToInt(n.Metadata.DaemonMeta.NeedsReview), n.Metadata.TokenUsage, n.Metadata.CostUSD, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert node row: %w", err)
	}
	return nil
}

func upsertCurrentVersion(ctx context.Context, tx *sql.Tx, id string, version int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO current_nodes (id, current_version) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET current_version = excluded.current_version
	`, id, version)
	if err != nil {
		return fmt.Errorf("upsert current node version: %w", err)
	}
	return nil
}

// GetNode returns the current version of a node by id.
func (s *Store) GetNode(ctx context.Context, id string) (Node, error) {
	var version int
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `SELECT current_version FROM current_nodes WHERE id = ?`, id).Scan(&version)
	if err == sql.ErrNoRows {
		return Node{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("read current node version: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT timestamp FROM nodes WHERE id = ? AND version = ?`, id, version).Scan(&ts)
	if err != nil {
		return Node{}, fmt.Errorf("read node timestamp: %w", err)
	}

	path, err := s.nodeJSONPath(id, version, ts)
	if err != nil {
		return Node{}, err
	}
	return readNodeJSON(path)
}

// NodeFilter narrows ListNodes to a subset of nodes.
type NodeFilter struct {
	Project string
	Type    string
	Outcome Outcome
	Since   time.Time
	Limit   int
	// MissingEmbedding restricts the result to current-version nodes with
	// no embedding recorded yet, for the embedding_backfill job kind
	// (spec.md §4.8).
	MissingEmbedding bool
}

// NodeSummary is the lightweight relational-row view used for listing.
type NodeSummary struct {
	ID        string
	Version   int
	Type      string
	Project   string
	Outcome   Outcome
	Summary   string
	Timestamp time.Time
}

// ListNodes returns current-version node summaries matching filter.
func (s *Store) ListNodes(ctx context.Context, filter NodeFilter) ([]NodeSummary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT n.id, n.version, n.type, n.project, n.outcome, n.summary, n.timestamp
		FROM nodes n
		JOIN current_nodes c ON c.id = n.id AND c.current_version = n.version
		WHERE 1 = 1
	`
	var args []any
	if filter.Project != "" {
		query += " AND n.project = ?"
		args = append(args, filter.Project)
	}
	if filter.Type != "" {
		query += " AND n.type = ?"
		args = append(args, filter.Type)
	}
	if filter.Outcome != "" {
		query += " AND n.outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += " AND n.timestamp >= ?"
		args = append(args, filter.Since)
	}
	if filter.MissingEmbedding {
		query += " AND n.embedding_model IS NULL"
	}
	query += " ORDER BY n.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeSummary
	for rows.Next() {
		var n NodeSummary
		var outcome sql.NullString
		if err := rows.Scan(&n.ID, &n.Version, &n.Type, &n.Project, &outcome, &n.Summary, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		n.Outcome = Outcome(outcome.String)
		out = append(out, n)
	}
	return out, rows.Err()
}

// nodeJSONPath returns <root>/nodes/YYYY/MM/<id>-v<version>.json.
func (s *Store) nodeJSONPath(id string, version int, ts time.Time) (string, error) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	dir := filepath.Join(s.dataRoot, "nodes", ts.Format("2006"), ts.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create node archive dir: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s-v%d.json", id, version)), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readNodeJSON(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Node{}, fmt.Errorf("read node JSON: %w", err)
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return Node{}, fmt.Errorf("unmarshal node JSON: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
