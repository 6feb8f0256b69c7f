package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// searchDocument is what gets indexed in Bleve: the searchable text of a
// node, not the full canonical object (that lives in the JSON archive).
type searchDocument struct {
	NodeID    string    `json:"nodeId"`
	Summary   string    `json:"summary"`
	Project   string    `json:"project"`
	Tags      []string  `json:"tags"`
	Timestamp time.Time `json:"timestamp"`
}

func openOrCreateBleveIndex(path string) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	idx, err = bleve.New(path, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return idx, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("summary", text)
	doc.AddFieldMappingsAt("project", keyword)
	doc.AddFieldMappingsAt("tags", keyword)
	doc.AddFieldMappingsAt("timestamp", date)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// indexNodeForSearch updates the Bleve document for a node's current
// version. Bleve's Index call is itself idempotent-by-ID, so a reanalysis
// simply replaces the prior document.
func (s *Store) indexNodeForSearch(n Node) error {
	doc := searchDocument{
		NodeID:    n.ID,
		Summary:   n.Content.Summary,
		Project:   n.Classification.Project,
		Tags:      n.Semantic.Tags,
		Timestamp: n.Metadata.Timestamp,
	}
	return s.bleve.Index(n.ID, doc)
}

// SearchResult is one full-text or semantic search hit.
type SearchResult struct {
	NodeID string
	Score  float64
}

// SearchFullText runs a Bleve match query over node summaries and tags.
func (s *Store) SearchFullText(ctx context.Context, text string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	q := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	res, err := s.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}

	out := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, SearchResult{NodeID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// UpsertEmbedding stores (or replaces) the embedding vector for a node
// under the given model tag. A node may be saved before its embedding is
// available; embedding_backfill jobs call this once it is. It also stamps
// nodes.embedding_model on the node's current-version row so ListNodes'
// MissingEmbedding filter stops matching it on the next sweep.
func (s *Store) UpsertEmbedding(ctx context.Context, nodeID, model string, embedding []byte) error {
	if s.dim == 0 {
		return fmt.Errorf("vector table not initialized: embedding dimension unset")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin embedding transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO node_vectors (node_id, embedding_model, embedding) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET embedding_model = excluded.embedding_model, embedding = excluded.embedding
	`, nodeID, model, embedding); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE nodes SET embedding_model = ?
		WHERE id = ? AND version = (SELECT current_version FROM current_nodes WHERE id = ?)
	`, model, nodeID, nodeID); err != nil {
		return fmt.Errorf("stamp node embedding model: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embedding transaction: %w", err)
	}
	return nil
}

// SerializeEmbedding converts a float32 vector into the byte layout
// sqlite-vec expects in the embedding column.
func SerializeEmbedding(v []float32) ([]byte, error) {
	return sqlitevec.SerializeFloat32(v)
}

// SemanticSearch finds the top-k nearest node embeddings under the given
// model tag by cosine distance, used by both semantic search and the
// Connection Discoverer's semantic-edge pass.
func (s *Store) SemanticSearch(ctx context.Context, model string, query []float32, k int, threshold float64) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	blob, err := SerializeEmbedding(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, distance
		FROM node_vectors
		WHERE embedding_model = ? AND embedding MATCH ? AND k = ?
		ORDER BY distance
	`, model, blob, k)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var nodeID string
		var distance float64
		if err := rows.Scan(&nodeID, &distance); err != nil {
			return nil, fmt.Errorf("scan semantic search row: %w", err)
		}
		similarity := 1 - distance/2 // cosine distance in [0,2] -> similarity in [-1,1]
		if similarity < threshold {
			continue
		}
		out = append(out, SearchResult{NodeID: nodeID, Score: similarity})
	}
	return out, rows.Err()
}

// NeighborsOf finds the nodes whose embedding is nearest to nodeID's own
// stored embedding, excluding nodeID itself. Used by the Connection
// Discoverer's semantic-edge pass (spec.md §4.7), which compares existing
// nodes against each other rather than against a fresh query vector.
func (s *Store) NeighborsOf(ctx context.Context, nodeID string, k int, threshold float64) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}

	var blob []byte
	var model string
	err := s.db.QueryRowContext(ctx, `SELECT embedding, embedding_model FROM node_vectors WHERE node_id = ?`, nodeID).Scan(&blob, &model)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read node embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, distance
		FROM node_vectors
		WHERE embedding_model = ? AND embedding MATCH ? AND k = ?
		ORDER BY distance
	`, model, blob, k+1)
	if err != nil {
		return nil, fmt.Errorf("neighbor search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var neighborID string
		var distance float64
		if err := rows.Scan(&neighborID, &distance); err != nil {
			return nil, fmt.Errorf("scan neighbor row: %w", err)
		}
		if neighborID == nodeID {
			continue
		}
		similarity := 1 - distance/2
		if similarity < threshold {
			continue
		}
		out = append(out, SearchResult{NodeID: neighborID, Score: similarity})
	}
	return out, rows.Err()
}
