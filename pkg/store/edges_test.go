package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpsertEdgeIsIdempotentOnRerun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertEdge(ctx, Edge{SourceNode: "a", TargetNode: "b", Kind: EdgeSemantic, Weight: 0.8, Evidence: "first"})
	require.NoError(t, err)

	err = s.UpsertEdge(ctx, Edge{SourceNode: "a", TargetNode: "b", Kind: EdgeSemantic, Weight: 0.95, Evidence: "rerun"})
	require.NoError(t, err)

	edges, err := s.EdgesFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, 0.95, edges[0].Weight)
	require.Equal(t, "rerun", edges[0].Evidence)
}

func TestEdgesForMatchesEitherDirection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEdge(ctx, Edge{SourceNode: "a", TargetNode: "b", Kind: EdgeFileOverlap, Weight: 0.5}))
	require.NoError(t, s.UpsertEdge(ctx, Edge{SourceNode: "c", TargetNode: "a", Kind: EdgeTemporal, Weight: 0.3}))

	edges, err := s.EdgesFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, edges, 2)
}

func TestLastConnectionDiscoveryRunZeroWhenNone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastConnectionDiscoveryRun(ctx, "a")
	require.NoError(t, err)
	require.True(t, last.IsZero())

	require.NoError(t, s.UpsertEdge(ctx, Edge{SourceNode: "a", TargetNode: "b", Kind: EdgeSemantic, Weight: 0.9}))
	last, err = s.LastConnectionDiscoveryRun(ctx, "a")
	require.NoError(t, err)
	require.False(t, last.IsZero())
}

func TestLastConnectionDiscoveryRunIgnoresStructuralEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEdge(ctx, Edge{SourceNode: "a", TargetNode: "b", Kind: EdgeCompaction, Weight: 1}))

	last, err := s.LastConnectionDiscoveryRun(ctx, "a")
	require.NoError(t, err)
	require.True(t, last.IsZero())
}

func TestNormalizePromptCollapsesWhitespaceAndStripsComments(t *testing.T) {
	raw := "  Some   prompt \n\n text <!-- v2 bump --> here  "
	got := NormalizePrompt(raw)
	require.Equal(t, "Some prompt text here", got)
}

func TestHashPromptDeterministic(t *testing.T) {
	a := HashPrompt("hello   world")
	b := HashPrompt("hello world")
	require.Equal(t, a, b)
	require.Len(t, a, 8)
}

func TestResolvePromptVersionIdenticalContentSameLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.ResolvePromptVersion(ctx, "You are an analyzer.", "initial")
	require.NoError(t, err)
	require.Equal(t, 1, v1.Sequence)

	v2, err := s.ResolvePromptVersion(ctx, "You   are an analyzer.  ", "re-run with extra whitespace")
	require.NoError(t, err)
	require.Equal(t, v1.Label, v2.Label)
}

func TestResolvePromptVersionChangedContentBumpsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.ResolvePromptVersion(ctx, "You are an analyzer.", "initial")
	require.NoError(t, err)

	v2, err := s.ResolvePromptVersion(ctx, "You are an analyzer. Be terse.", "bump: terser output")
	require.NoError(t, err)
	require.NotEqual(t, v1.Label, v2.Label)
	require.Equal(t, 2, v2.Sequence)
}

func TestLatestPromptVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LatestPromptVersion(ctx)
	require.NoError(t, err)
	require.False(t, found)

	v1, err := s.ResolvePromptVersion(ctx, "prompt one", "initial")
	require.NoError(t, err)

	latest, found, err := s.LatestPromptVersion(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, v1.Label, latest.Label)
}

func TestUpsertInsightRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := Insight{
		Type:                 InsightToolError,
		Model:                "claude",
		Tool:                 "Bash",
		Pattern:              "rm without confirmation",
		Frequency:            3,
		Confidence:           0.7,
		Severity:             "medium",
		Examples:             []string{"node-a", "node-b"},
		PromptText:           "Always confirm destructive commands.",
		PromptIncluded:       true,
		EffectivenessHistory: []string{"helped", "neutral"},
	}
	saved, err := s.UpsertInsight(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	saved.Frequency = 4
	saved.Examples = append(saved.Examples, "node-c")
	_, err = s.UpsertInsight(ctx, saved)
	require.NoError(t, err)

	list, err := s.ListInsights(ctx, InsightToolError)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 4, list[0].Frequency)
	require.ElementsMatch(t, []string{"node-a", "node-b", "node-c"}, list[0].Examples)
	require.True(t, list[0].PromptIncluded)
}

func TestPromptIncludedInsightsFiltersFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertInsight(ctx, Insight{Type: InsightWin, Pattern: "good pattern", PromptIncluded: true})
	require.NoError(t, err)
	_, err = s.UpsertInsight(ctx, Insight{Type: InsightFailure, Pattern: "excluded pattern", PromptIncluded: false})
	require.NoError(t, err)

	included, err := s.PromptIncludedInsights(ctx)
	require.NoError(t, err)
	require.Len(t, included, 1)
	require.Equal(t, "good pattern", included[0].Pattern)
}

func TestRecordAndUpdateDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.RecordDecision(ctx, Decision{
		Decision:      "skip reanalysis",
		Reasoning:     "prompt version unchanged",
		SourceProject: "brain",
	})
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)

	err = s.UpdateDecisionFeedback(ctx, d.ID, FeedbackGood)
	require.NoError(t, err)

	list, err := s.ListDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, FeedbackGood, list[0].UserFeedback)
}

func TestUpdateDecisionFeedbackNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateDecisionFeedback(ctx, "missing-id", FeedbackBad)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndListClusters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveCluster(ctx, Cluster{Label: "auth refactors", Project: "brain", NodeIDs: []string{"n1", "n2"}})
	require.NoError(t, err)
	_, err = s.SaveCluster(ctx, Cluster{Label: "other project cluster", Project: "other", NodeIDs: []string{"n3"}})
	require.NoError(t, err)

	list, err := s.ListClusters(ctx, "brain")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, []string{"n1", "n2"}, list[0].NodeIDs)

	all, err := s.ListClusters(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestReconcileOrphansRemovesUnindexedFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	dir := filepath.Join(s.dataRoot, "nodes", now.Format("2006"), now.Format("01"))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	orphan := filepath.Join(dir, "0123456789abcdef-v1.json")
	require.NoError(t, os.WriteFile(orphan, []byte(`{}`), 0o644))

	n, err := s.ReconcileOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = os.Stat(orphan)
	require.True(t, os.IsNotExist(err))
}

func TestReconcileOrphansIgnoresNonMatchingFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	dir := filepath.Join(s.dataRoot, "nodes", now.Format("2006"), now.Format("01"))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	other := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(other, []byte("notes"), 0o644))

	n, err := s.ReconcileOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	_, err = os.Stat(other)
	require.NoError(t, err)
}
