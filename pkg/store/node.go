package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Node is the canonical output of one analysis: the structured result
// derived from a session segment by the Analyzer Invoker.
type Node struct {
	ID             string         `json:"id"`
	Version        int            `json:"version"`
	Classification Classification `json:"classification"`
	Content        Content        `json:"content"`
	Lessons        Lessons        `json:"lessons"`
	Semantic       Semantic       `json:"semantic"`
	Metadata       Metadata       `json:"metadata"`
	Friction       Friction       `json:"friction"`
}

// Classification captures what kind of work session this was.
type Classification struct {
	Type          string   `json:"type"`
	Project       string   `json:"project"`
	Language      string   `json:"language"`
	Frameworks    []string `json:"frameworks"`
	HadClearGoal  bool     `json:"hadClearGoal"`
	IsNewProject  bool     `json:"isNewProject"`
}

// Outcome enumerates how a segment concluded.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomePartial  Outcome = "partial"
	OutcomeFailed   Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// Content is the substantive body of the analysis.
type Content struct {
	Summary      string   `json:"summary"`
	Outcome      Outcome  `json:"outcome"`
	KeyDecisions []string `json:"keyDecisions"`
	FilesTouched []string `json:"filesTouched"`
	ToolsUsed    []string `json:"toolsUsed"`
	ErrorsSeen   []string `json:"errorsSeen"`
}

// LessonLevel buckets a lesson by the scope it applies to.
type LessonLevel string

const (
	LessonProject  LessonLevel = "project"
	LessonTask     LessonLevel = "task"
	LessonUser     LessonLevel = "user"
	LessonModel    LessonLevel = "model"
	LessonTool     LessonLevel = "tool"
	LessonSkill    LessonLevel = "skill"
	LessonSubagent LessonLevel = "subagent"
)

// Lessons buckets extracted lessons by level.
type Lessons map[LessonLevel][]string

// Semantic holds the node's tags and embedding, used by the Connection
// Discoverer and Query Engine. Embedding is opaque bytes tagged with the
// model that produced it; comparisons are only valid within the same tag
// (see DESIGN.md Open Question decisions).
type Semantic struct {
	Tags           []string `json:"tags"`
	Embedding      []byte   `json:"embedding,omitempty"`
	EmbeddingModel string   `json:"embeddingModel,omitempty"`
}

// DaemonMeta records bookkeeping the daemon itself attaches to a node.
type DaemonMeta struct {
	NeedsReview bool `json:"needsReview"`
}

// Metadata records provenance: where this node came from and when.
type Metadata struct {
	Timestamp         time.Time  `json:"timestamp"`
	SourceSessionPath string     `json:"sourceSessionPath"`
	SourceBoundary    string     `json:"sourceBoundary"`
	PromptVersion     string     `json:"promptVersion"`
	DaemonMeta        DaemonMeta `json:"daemonMeta"`
	TokenUsage        int        `json:"tokenUsage"`
	CostUSD           float64    `json:"costUsd"`
}

// FrictionSignal names one observed friction pattern and its strength.
type FrictionSignal struct {
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

// Friction records signals like abandoned-restart, tool-loop, and
// rephrasing-cascade that the analyzer detected in the segment.
type Friction struct {
	Signals []FrictionSignal `json:"signals"`
}

// NodeID is a deterministic function of (sessionFile, boundary): reanalysis
// of the same segment always resolves to the same node id, so a rerun
// updates the node instead of creating a duplicate.
func NodeID(sessionFile, boundary string) string {
	sum := sha256.Sum256([]byte(sessionFile + "\x00" + boundary))
	return hex.EncodeToString(sum[:])[:16]
}
