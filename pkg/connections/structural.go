package connections

import (
	"context"
	"fmt"

	"github.com/brain-daemon/brain/pkg/store"
)

// RecordCompactionEdge records the structural edge between two halves of a
// multi-compaction split (spec.md §4.2's CompactionHint): these edges come
// directly from the Segment Extractor's own boundary accounting, not from
// a similarity search, so they bypass the cooldown entirely.
func (d *Discoverer) RecordCompactionEdge(ctx context.Context, fromNodeID, toNodeID string) error {
	if fromNodeID == "" || toNodeID == "" || fromNodeID == toNodeID {
		return nil
	}
	if err := d.st.UpsertEdge(ctx, store.Edge{
		SourceNode: fromNodeID,
		TargetNode: toNodeID,
		Kind:       store.EdgeCompaction,
		Weight:     1,
		Evidence:   "sequential sub-segments of the same compaction split",
	}); err != nil {
		return fmt.Errorf("upsert compaction edge %s->%s: %w", fromNodeID, toNodeID, err)
	}
	return nil
}

// RecordForkEdge records the structural edge between a parent session's
// node and the node created from a forked (branch_summary) child session.
func (d *Discoverer) RecordForkEdge(ctx context.Context, parentNodeID, forkNodeID string) error {
	if parentNodeID == "" || forkNodeID == "" || parentNodeID == forkNodeID {
		return nil
	}
	if err := d.st.UpsertEdge(ctx, store.Edge{
		SourceNode: parentNodeID,
		TargetNode: forkNodeID,
		Kind:       store.EdgeFork,
		Weight:     1,
		Evidence:   "forked session branch",
	}); err != nil {
		return fmt.Errorf("upsert fork edge %s->%s: %w", parentNodeID, forkNodeID, err)
	}
	return nil
}
