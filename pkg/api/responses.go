package api

import (
	"time"

	"github.com/brain-daemon/brain/pkg/health"
	"github.com/brain-daemon/brain/pkg/store"
)

// nodeSummaryResponse mirrors store.NodeSummary for the list endpoint.
type nodeSummaryResponse struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Type      string    `json:"type"`
	Project   string    `json:"project"`
	Outcome   string    `json:"outcome"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

func toNodeSummaryResponse(n store.NodeSummary) nodeSummaryResponse {
	return nodeSummaryResponse{
		ID: n.ID, Version: n.Version, Type: n.Type, Project: n.Project,
		Outcome: string(n.Outcome), Summary: n.Summary, Timestamp: n.Timestamp,
	}
}

// searchHitResponse is one full-text or semantic search result, joined
// with enough of the node to render a result list without a second round
// trip per hit.
type searchHitResponse struct {
	NodeID  string  `json:"nodeId"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary,omitempty"`
	Project string  `json:"project,omitempty"`
}

// decisionResponse mirrors store.Decision.
type decisionResponse struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Decision      string    `json:"decision"`
	Reasoning     string    `json:"reasoning"`
	SourceProject string    `json:"sourceProject,omitempty"`
	UserFeedback  string    `json:"userFeedback,omitempty"`
}

func toDecisionResponse(d store.Decision) decisionResponse {
	return decisionResponse{
		ID: d.ID, Timestamp: d.Timestamp, Decision: d.Decision, Reasoning: d.Reasoning,
		SourceProject: d.SourceProject, UserFeedback: string(d.UserFeedback),
	}
}

// insightResponse mirrors store.Insight.
type insightResponse struct {
	ID                   string   `json:"id"`
	Type                 string   `json:"type"`
	Model                string   `json:"model,omitempty"`
	Tool                 string   `json:"tool,omitempty"`
	Pattern              string   `json:"pattern"`
	Frequency            int      `json:"frequency"`
	Confidence           float64  `json:"confidence"`
	Severity             string   `json:"severity,omitempty"`
	Examples             []string `json:"examples,omitempty"`
	PromptText           string   `json:"promptText,omitempty"`
	PromptIncluded       bool     `json:"promptIncluded"`
	EffectivenessHistory []string `json:"effectivenessHistory,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

func toInsightResponse(in store.Insight) insightResponse {
	return insightResponse{
		ID: in.ID, Type: string(in.Type), Model: in.Model, Tool: in.Tool, Pattern: in.Pattern,
		Frequency: in.Frequency, Confidence: in.Confidence, Severity: in.Severity,
		Examples: in.Examples, PromptText: in.PromptText, PromptIncluded: in.PromptIncluded,
		EffectivenessHistory: in.EffectivenessHistory, CreatedAt: in.CreatedAt,
	}
}

// patternAggregateResponse mirrors store.PatternAggregate.
type patternAggregateResponse struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// statsResponse mirrors store.Stats, the /api/v1/stats payload.
type statsResponse struct {
	TotalNodes     int            `json:"totalNodes"`
	NodesByOutcome map[string]int `json:"nodesByOutcome"`
	NodesByProject map[string]int `json:"nodesByProject"`
	NeedsReview    int            `json:"needsReview"`
	QueuePending   int            `json:"queuePending"`
	QueueLeased    int            `json:"queueLeased"`
	QueueFailed    int            `json:"queueFailed"`
	TotalEdges     int            `json:"totalEdges"`
	TotalDecisions int            `json:"totalDecisions"`
}

func toStatsResponse(s store.Stats) statsResponse {
	return statsResponse{
		TotalNodes: s.TotalNodes, NodesByOutcome: s.NodesByOutcome, NodesByProject: s.NodesByProject,
		NeedsReview: s.NeedsReview, QueuePending: s.QueuePending, QueueLeased: s.QueueLeased,
		QueueFailed: s.QueueFailed, TotalEdges: s.TotalEdges, TotalDecisions: s.TotalDecisions,
	}
}

// daemonStatusResponse is the /api/v1/daemon/status payload: queue depth
// plus worker pool health (spec.md §6).
type daemonStatusResponse struct {
	Queue   store.QueueStats `json:"queue"`
	Workers any              `json:"workers"`
}

// livenessResponse is the plain, unauthenticated GET /health payload
// (spec.md §6: "{available:bool, message:string}"), distinct from the
// richer preflight-check list at /api/v1/health.
type livenessResponse struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// preflightResponse is the /api/v1/health payload: the full named check
// set, re-run live (spec.md §4.9).
type preflightResponse struct {
	Healthy bool           `json:"healthy"`
	Checks  []health.Check `json:"checks"`
}

// promptVersionResponse mirrors store.PromptVersion.
type promptVersionResponse struct {
	Label     string    `json:"label"`
	Sequence  int       `json:"sequence"`
	Hash      string    `json:"hash"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toPromptVersionResponse(pv store.PromptVersion) promptVersionResponse {
	return promptVersionResponse{
		Label: pv.Label, Sequence: pv.Sequence, Hash: pv.Hash, Reason: pv.Reason, CreatedAt: pv.CreatedAt,
	}
}

// clusterResponse mirrors store.Cluster.
type clusterResponse struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Project   string    `json:"project,omitempty"`
	NodeIDs   []string  `json:"nodeIds"`
	CreatedAt time.Time `json:"createdAt"`
}

func toClusterResponse(c store.Cluster) clusterResponse {
	return clusterResponse{ID: c.ID, Label: c.Label, Project: c.Project, NodeIDs: c.NodeIDs, CreatedAt: c.CreatedAt}
}

// edgeResponse mirrors store.Edge.
type edgeResponse struct {
	SourceNode string    `json:"sourceNode"`
	TargetNode string    `json:"targetNode"`
	Kind       string    `json:"kind"`
	Weight     float64   `json:"weight"`
	Evidence   string    `json:"evidence,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toEdgeResponse(e store.Edge) edgeResponse {
	return edgeResponse{
		SourceNode: e.SourceNode, TargetNode: e.TargetNode, Kind: string(e.Kind),
		Weight: e.Weight, Evidence: e.Evidence, CreatedAt: e.CreatedAt,
	}
}

// providerSelection names the configured provider plus the set a daemon
// build knows how to drive.
type providerSelection struct {
	Current   string   `json:"current,omitempty"`
	Available []string `json:"available"`
}

// providersResponse is the /api/v1/providers payload (spec.md §4.12).
type providersResponse struct {
	Analyzer  providerSelection `json:"analyzer"`
	Embedding providerSelection `json:"embedding"`
}
