package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/connections"
	"github.com/brain-daemon/brain/pkg/masking"
	"github.com/brain-daemon/brain/pkg/queue"
	"github.com/brain-daemon/brain/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{DataRoot: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStoreWithEmbeddings(t *testing.T, dims int) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{DataRoot: t.TempDir(), EmbeddingDimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestDispatcher(t *testing.T, st *store.Store) *Dispatcher {
	t.Helper()
	discoverer := connections.New(st, config.ConnectionsConfig{}, nil)
	return New(st, discoverer, nil, masking.NewService(config.MaskingConfig{}), nil,
		config.AnalyzerConfig{}, config.QueueConfig{}, nil, nil)
}

func seedNode(t *testing.T, st *store.Store, id string, outcome store.Outcome, errs []string, lessons store.Lessons) store.Node {
	t.Helper()
	node := store.Node{
		ID: id,
		Classification: store.Classification{
			Type: "coding_task", Project: "proj", Language: "go",
		},
		Content: store.Content{
			Summary:    "did something",
			Outcome:    outcome,
			ErrorsSeen: errs,
			ToolsUsed:  []string{"bash"},
		},
		Lessons: lessons,
	}
	saved, err := st.SaveNode(context.Background(), node)
	require.NoError(t, err)
	return saved
}

func TestExecuteUnrecognizedJobKind(t *testing.T) {
	st := newTestStore(t)
	d := newTestDispatcher(t, st)

	out := d.Execute(context.Background(), store.Job{ID: "1", Kind: store.JobKind("bogus")})

	require.Equal(t, store.JobFailed, out.State)
	require.Equal(t, store.ErrorPermanent, out.ErrorCategory)
}

func TestExecuteConnectionDiscoveryEmptyStore(t *testing.T) {
	st := newTestStore(t)
	d := newTestDispatcher(t, st)

	out := d.Execute(context.Background(), store.Job{ID: "1", Kind: store.JobConnectionDiscovery})

	require.Equal(t, store.JobSucceeded, out.State)
}

func TestExecuteClusteringEmptyStore(t *testing.T) {
	st := newTestStore(t)
	d := newTestDispatcher(t, st)

	out := d.Execute(context.Background(), store.Job{ID: "1", Kind: store.JobClustering})

	require.Equal(t, store.JobSucceeded, out.State)
}

func TestExecuteEmbeddingBackfillNoProviderSucceedsNoop(t *testing.T) {
	st := newTestStore(t)
	seedNode(t, st, "node-1", store.OutcomeSuccess, nil, nil)
	d := newTestDispatcher(t, st) // d.embedder is nil

	out := d.Execute(context.Background(), store.Job{ID: "1", Kind: store.JobEmbeddingBackfill})

	require.Equal(t, store.JobSucceeded, out.State)
}

func TestExecuteEmbeddingBackfillWithProvider(t *testing.T) {
	st := newTestStoreWithEmbeddings(t, 3)
	node := seedNode(t, st, "node-1", store.OutcomeSuccess, nil, nil)

	discoverer := connections.New(st, config.ConnectionsConfig{}, nil)
	d := New(st, discoverer, stubEmbedder{dim: 3, model: "stub-v1"}, masking.NewService(config.MaskingConfig{}), nil,
		config.AnalyzerConfig{}, config.QueueConfig{}, nil, nil)

	out := d.Execute(context.Background(), store.Job{ID: "1", Kind: store.JobEmbeddingBackfill})
	require.Equal(t, store.JobSucceeded, out.State)

	query := []float32{1, 2, 3}
	hits, err := st.SemanticSearch(context.Background(), "stub-v1", query, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, node.ID, hits[0].NodeID)
}

func TestExecutePatternAggregationIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	seedNode(t, st, "node-1", store.OutcomeFailed, []string{"connection refused"},
		store.Lessons{store.LessonProject: {"always check the port"}})
	seedNode(t, st, "node-2", store.OutcomeFailed, []string{"connection refused"}, nil)
	d := newTestDispatcher(t, st)

	out1 := d.Execute(context.Background(), store.Job{ID: "1", Kind: store.JobPatternAggregation})
	require.Equal(t, store.JobSucceeded, out1.State)

	errorInsights, err := st.ListInsights(context.Background(), store.InsightToolError)
	require.NoError(t, err)
	require.Len(t, errorInsights, 1)
	require.Equal(t, 2, errorInsights[0].Frequency)
	firstID := errorInsights[0].ID

	// Running the sweep again against the same nodes must update the same
	// row, not create a second one (UpsertInsight upserts by ID).
	out2 := d.Execute(context.Background(), store.Job{ID: "2", Kind: store.JobPatternAggregation})
	require.Equal(t, store.JobSucceeded, out2.State)

	errorInsights, err = st.ListInsights(context.Background(), store.InsightToolError)
	require.NoError(t, err)
	require.Len(t, errorInsights, 1)
	require.Equal(t, firstID, errorInsights[0].ID)
	require.Equal(t, 2, errorInsights[0].Frequency)

	lessonInsights, err := st.ListInsights(context.Background(), store.InsightLesson)
	require.NoError(t, err)
	require.Len(t, lessonInsights, 1)
	require.Equal(t, 1, lessonInsights[0].Frequency)
}

func TestReconstructSegmentMissingFile(t *testing.T) {
	_, err := reconstructSegment("/nonexistent/session.jsonl", "boundary-1")
	require.Error(t, err)

	cls := classifyReconstructError(err)
	require.Equal(t, store.ErrorPermanent, cls.Category)
}

func TestInsightIDIsDeterministic(t *testing.T) {
	a := insightID(store.InsightToolError, "", "bash", "connection refused")
	b := insightID(store.InsightToolError, "", "bash", "connection refused")
	c := insightID(store.InsightToolError, "", "bash", "timeout")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 24)
}

func TestFailAnalysisPublishesAndMarksRetry(t *testing.T) {
	st := newTestStore(t)
	d := newTestDispatcher(t, st)

	// backoff() would otherwise sleep for the real retry delay; an
	// already-expired context makes it return immediately via ctx.Done()
	// without needing to fake the clock.
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	out := d.failAnalysis(ctx, store.Job{ID: "1", RetryCount: 0},
		errBoom, classifyReconstructError(errBoom))

	require.Equal(t, store.JobFailed, out.State)
	require.NotEmpty(t, out.LastError)
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

type stubEmbedder struct {
	dim   int
	model string
}

func (s stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, s.dim)
		for j := range vec {
			vec[j] = float32(j + 1)
		}
		out[i] = vec
	}
	return out, nil
}

func (s stubEmbedder) Dimension() int { return s.dim }
func (s stubEmbedder) Model() string  { return s.model }

var _ queue.Executor = (*Dispatcher)(nil)
