// Package connections implements the Connection Discoverer (spec.md §4.7):
// it finds semantic, file-overlap, temporal, and structural relationships
// between nodes and records them as edges in the Node Store. Grounded on
// the Node Store's own edge/search primitives (pkg/store/edges.go,
// search.go) — this package is pure orchestration over them, the way the
// teacher's pkg/services layer sits atop its ent-generated repositories.
package connections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/store"
)

// Discoverer finds and records connections between nodes.
type Discoverer struct {
	st  *store.Store
	cfg config.ConnectionsConfig
	log *slog.Logger
}

// New builds a Discoverer bound to st, configured by cfg.
func New(st *store.Store, cfg config.ConnectionsConfig, log *slog.Logger) *Discoverer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.CooldownHours <= 0 {
		cfg.CooldownHours = 24
	}
	if cfg.ClusterWeightThreshold <= 0 {
		cfg.ClusterWeightThreshold = 0.5
	}
	return &Discoverer{st: st, cfg: cfg, log: log}
}

// DiscoverForNode runs every applicable edge-discovery pass for one node,
// honoring the cooldown (spec.md §4.7: "re-discovery is rate-limited per
// node to avoid redundant work on an unchanged graph"). force bypasses the
// cooldown, used for on-demand discovery right after a node is first
// created or reanalyzed.
func (d *Discoverer) DiscoverForNode(ctx context.Context, nodeID string, force bool) error {
	if !force {
		last, err := d.st.LastConnectionDiscoveryRun(ctx, nodeID)
		if err != nil {
			return fmt.Errorf("check connection discovery cooldown: %w", err)
		}
		if !last.IsZero() && time.Since(last) < time.Duration(d.cfg.CooldownHours)*time.Hour {
			return nil
		}
	}

	n, err := d.st.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("load node for connection discovery: %w", err)
	}

	if err := d.discoverSemantic(ctx, n); err != nil {
		d.log.Warn("semantic connection discovery failed", "node_id", nodeID, "error", err)
	}
	if err := d.discoverFileOverlap(ctx, n); err != nil {
		d.log.Warn("file overlap connection discovery failed", "node_id", nodeID, "error", err)
	}
	if err := d.discoverTemporal(ctx, n); err != nil {
		d.log.Warn("temporal connection discovery failed", "node_id", nodeID, "error", err)
	}
	return nil
}

// DiscoverAll sweeps every current node, used by the scheduled
// connection_discovery job kind (spec.md §4.8). Each node still respects
// its own cooldown, so a sweep shortly after an on-demand run is cheap.
func (d *Discoverer) DiscoverAll(ctx context.Context) (int, error) {
	nodes, err := d.st.ListNodes(ctx, store.NodeFilter{Limit: 10000})
	if err != nil {
		return 0, fmt.Errorf("list nodes for connection discovery sweep: %w", err)
	}
	discovered := 0
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return discovered, err
		}
		if err := d.DiscoverForNode(ctx, n.ID, false); err != nil {
			d.log.Warn("connection discovery sweep failed for node", "node_id", n.ID, "error", err)
			continue
		}
		discovered++
	}
	return discovered, nil
}

// discoverSemantic records edges to the nearest embeddings in the same
// vector space, above the configured similarity threshold.
func (d *Discoverer) discoverSemantic(ctx context.Context, n store.Node) error {
	if len(n.Semantic.Embedding) == 0 {
		return nil // no embedding yet; embedding_backfill will fill this in later
	}
	neighbors, err := d.st.NeighborsOf(ctx, n.ID, d.cfg.TopK, d.cfg.SemanticSearchThreshold)
	if err != nil {
		return err
	}
	for _, nb := range neighbors {
		edge := store.Edge{
			SourceNode: n.ID,
			TargetNode: nb.NodeID,
			Kind:       store.EdgeSemantic,
			Weight:     nb.Score,
			Evidence:   fmt.Sprintf("cosine similarity %.3f under model %s", nb.Score, n.Semantic.EmbeddingModel),
		}
		if err := d.st.UpsertEdge(ctx, edge); err != nil {
			return fmt.Errorf("upsert semantic edge %s->%s: %w", n.ID, nb.NodeID, err)
		}
	}
	return nil
}

// discoverFileOverlap records edges between nodes that touched overlapping
// files, weighted by Jaccard similarity over the FilesTouched sets.
func (d *Discoverer) discoverFileOverlap(ctx context.Context, n store.Node) error {
	if len(n.Content.FilesTouched) == 0 {
		return nil
	}
	mine := toSet(n.Content.FilesTouched)

	candidates, err := d.st.ListNodes(ctx, store.NodeFilter{Project: n.Classification.Project, Limit: 500})
	if err != nil {
		return fmt.Errorf("list candidate nodes for file overlap: %w", err)
	}

	type scored struct {
		id    string
		score float64
		files []string
	}
	var best []scored
	for _, c := range candidates {
		if c.ID == n.ID {
			continue
		}
		other, err := d.st.GetNode(ctx, c.ID)
		if err != nil {
			continue
		}
		score, shared := jaccard(mine, other.Content.FilesTouched)
		if score < d.cfg.FileOverlapMinJaccard {
			continue
		}
		best = append(best, scored{id: c.ID, score: score, files: shared})
	}

	for i, b := range best {
		if i >= d.cfg.TopK {
			break
		}
		edge := store.Edge{
			SourceNode: n.ID,
			TargetNode: b.id,
			Kind:       store.EdgeFileOverlap,
			Weight:     b.score,
			Evidence:   fmt.Sprintf("%d shared files: %v", len(b.files), b.files),
		}
		if err := d.st.UpsertEdge(ctx, edge); err != nil {
			return fmt.Errorf("upsert file overlap edge %s->%s: %w", n.ID, b.id, err)
		}
	}
	return nil
}

// discoverTemporal records edges between nodes in the same project created
// close together in time, weighted by proximity within the configured
// window.
func (d *Discoverer) discoverTemporal(ctx context.Context, n store.Node) error {
	window := time.Duration(d.cfg.TemporalWindowDays) * 24 * time.Hour
	if window <= 0 {
		return nil
	}
	since := n.Metadata.Timestamp.Add(-window)

	candidates, err := d.st.ListNodes(ctx, store.NodeFilter{Project: n.Classification.Project, Since: since, Limit: 500})
	if err != nil {
		return fmt.Errorf("list candidate nodes for temporal overlap: %w", err)
	}

	for _, c := range candidates {
		if c.ID == n.ID {
			continue
		}
		diff := n.Metadata.Timestamp.Sub(c.Timestamp)
		if diff < 0 {
			diff = -diff
		}
		if diff > window {
			continue
		}
		weight := 1 - float64(diff)/float64(window)
		edge := store.Edge{
			SourceNode: n.ID,
			TargetNode: c.ID,
			Kind:       store.EdgeTemporal,
			Weight:     weight,
			Evidence:   fmt.Sprintf("%s apart in project %s", diff.Round(time.Minute), n.Classification.Project),
		}
		if err := d.st.UpsertEdge(ctx, edge); err != nil {
			return fmt.Errorf("upsert temporal edge %s->%s: %w", n.ID, c.ID, err)
		}
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func jaccard(mine map[string]struct{}, otherFiles []string) (float64, []string) {
	if len(mine) == 0 || len(otherFiles) == 0 {
		return 0, nil
	}
	other := toSet(otherFiles)
	var shared []string
	for f := range mine {
		if _, ok := other[f]; ok {
			shared = append(shared, f)
		}
	}
	union := len(mine) + len(other) - len(shared)
	if union == 0 {
		return 0, nil
	}
	return float64(len(shared)) / float64(union), shared
}
