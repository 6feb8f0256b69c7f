package connections

import (
	"context"
	"testing"
	"time"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{DataRoot: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func saveNode(t *testing.T, s *store.Store, id, project string, files []string, ts time.Time) store.Node {
	t.Helper()
	n := store.Node{
		ID:             id,
		Classification: store.Classification{Project: project},
		Content:        store.Content{Summary: "did stuff", Outcome: store.OutcomeSuccess, FilesTouched: files},
		Metadata:       store.Metadata{Timestamp: ts, SourceSessionPath: id + ".jsonl", SourceBoundary: "tail"},
	}
	saved, err := s.SaveNode(context.Background(), n)
	require.NoError(t, err)
	return saved
}

func TestDiscoverFileOverlapRecordsEdgeAboveThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	saveNode(t, s, "nodea1234567890a", "proj", []string{"a.go", "b.go"}, now)
	saveNode(t, s, "nodeb1234567890b", "proj", []string{"a.go", "c.go"}, now)

	d := New(s, config.ConnectionsConfig{FileOverlapMinJaccard: 0.1, TopK: 5}, nil)
	require.NoError(t, d.discoverFileOverlap(ctx, mustGetNode(t, s, "nodea1234567890a")))

	edges, err := s.EdgesFor(ctx, "nodea1234567890a")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, store.EdgeFileOverlap, edges[0].Kind)
}

func TestDiscoverFileOverlapSkipsBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	saveNode(t, s, "nodea1234567890a", "proj", []string{"a.go", "b.go", "c.go", "d.go"}, now)
	saveNode(t, s, "nodeb1234567890b", "proj", []string{"z.go"}, now)

	d := New(s, config.ConnectionsConfig{FileOverlapMinJaccard: 0.5, TopK: 5}, nil)
	require.NoError(t, d.discoverFileOverlap(ctx, mustGetNode(t, s, "nodea1234567890a")))

	edges, err := s.EdgesFor(ctx, "nodea1234567890a")
	require.NoError(t, err)
	require.Len(t, edges, 0)
}

func TestDiscoverTemporalRecordsEdgeWithinWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	saveNode(t, s, "nodea1234567890a", "proj", nil, now)
	saveNode(t, s, "nodeb1234567890b", "proj", nil, now.Add(-2*time.Hour))

	d := New(s, config.ConnectionsConfig{TemporalWindowDays: 1, TopK: 5}, nil)
	require.NoError(t, d.discoverTemporal(ctx, mustGetNode(t, s, "nodea1234567890a")))

	edges, err := s.EdgesFor(ctx, "nodea1234567890a")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, store.EdgeTemporal, edges[0].Kind)
}

func TestDiscoverForNodeRespectsCooldown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	saveNode(t, s, "nodea1234567890a", "proj", []string{"a.go"}, now)
	saveNode(t, s, "nodeb1234567890b", "proj", []string{"a.go"}, now)

	d := New(s, config.ConnectionsConfig{FileOverlapMinJaccard: 0.1, TopK: 5, CooldownHours: 24}, nil)
	require.NoError(t, d.DiscoverForNode(ctx, "nodea1234567890a", false))

	edgesFirst, err := s.EdgesFor(ctx, "nodea1234567890a")
	require.NoError(t, err)
	require.Len(t, edgesFirst, 1)

	// A second call within the cooldown window is a no-op: upserting again
	// wouldn't change anything observable, but we confirm it still returns
	// cleanly and doesn't error on a re-run.
	require.NoError(t, d.DiscoverForNode(ctx, "nodea1234567890a", false))
}

func TestJaccardSharedFiles(t *testing.T) {
	score, shared := jaccard(toSet([]string{"a", "b", "c"}), []string{"b", "c", "d"})
	require.InDelta(t, 0.5, score, 0.001)
	require.ElementsMatch(t, []string{"b", "c"}, shared)
}

func mustGetNode(t *testing.T, s *store.Store, id string) store.Node {
	t.Helper()
	n, err := s.GetNode(context.Background(), id)
	require.NoError(t, err)
	return n
}
