package connections

import (
	"context"
	"fmt"
	"sort"

	"github.com/brain-daemon/brain/pkg/store"
)

// unionFind is a minimal disjoint-set structure scoped to this file: the
// clustering pass is the only consumer, and the graph here is small enough
// (one daemon's worth of nodes) that path compression without union-by-rank
// is plenty fast.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// RunClustering groups nodes into clusters via connected components over
// edges at or above the configured weight threshold (spec.md §4.8
// "clustering"), one cluster set per project. It replaces the prior
// snapshot rather than updating it incrementally: cluster membership isn't
// something a single node change can patch, since removing an edge can
// split a cluster that a single UPDATE can't express.
func (d *Discoverer) RunClustering(ctx context.Context) (int, error) {
	edges, err := d.st.AllEdgesAboveWeight(ctx, d.cfg.ClusterWeightThreshold)
	if err != nil {
		return 0, fmt.Errorf("load edges for clustering: %w", err)
	}
	if len(edges) == 0 {
		// Nothing above threshold anymore: the prior snapshot no longer
		// reflects reality either, so clear it rather than leaving stale
		// clusters behind.
		if _, err := d.st.ReplaceClusters(ctx, nil); err != nil {
			return 0, fmt.Errorf("clear cluster snapshot: %w", err)
		}
		return 0, nil
	}

	uf := newUnionFind()
	for _, e := range edges {
		uf.union(e.SourceNode, e.TargetNode)
	}

	projectOf, err := d.projectIndex(ctx)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]string)
	for id := range uf.parent {
		root := uf.find(id)
		groups[root] = append(groups[root], id)
	}

	var clusters []store.Cluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		project := dominantProject(members, projectOf)
		clusters = append(clusters, store.Cluster{
			Label:   fmt.Sprintf("%s cluster (%d nodes)", project, len(members)),
			Project: project,
			NodeIDs: members,
		})
	}

	saved, err := d.st.ReplaceClusters(ctx, clusters)
	if err != nil {
		return 0, fmt.Errorf("replace cluster snapshot: %w", err)
	}
	return len(saved), nil
}

func (d *Discoverer) projectIndex(ctx context.Context) (map[string]string, error) {
	nodes, err := d.st.ListNodes(ctx, store.NodeFilter{Limit: 100000})
	if err != nil {
		return nil, fmt.Errorf("list nodes for clustering: %w", err)
	}
	idx := make(map[string]string, len(nodes))
	for _, n := range nodes {
		idx[n.ID] = n.Project
	}
	return idx, nil
}

// dominantProject returns the most common project among members, since a
// cluster that spans projects (possible via a cross-project semantic edge)
// still needs a single label.
func dominantProject(members []string, projectOf map[string]string) string {
	counts := make(map[string]int)
	for _, m := range members {
		counts[projectOf[m]]++
	}
	best, bestCount := "", 0
	for p, c := range counts {
		if c > bestCount {
			best, bestCount = p, c
		}
	}
	return best
}
