// Package segment implements the Segment Extractor: it decides, for a
// session that has changed, whether a new analysis job should be enqueued,
// and slices the session's entries into the segment(s) worth analyzing.
package segment

import (
	"time"

	"github.com/brain-daemon/brain/pkg/session"
)

// Config tunes the Segment Extractor's readiness heuristics (spec.md §4.2).
type Config struct {
	IdleTimeout       time.Duration
	StabilityLocal    time.Duration
	StabilityExternal time.Duration
	MinEntries        int
	MinTokens         int
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       10 * time.Minute,
		StabilityLocal:    5 * time.Second,
		StabilityExternal: 30 * time.Second,
		MinEntries:        3,
		MinTokens:         100,
	}
}

// ReadyReason names which of the three readiness conditions fired.
type ReadyReason string

const (
	ReasonIdle      ReadyReason = "idle"
	ReasonBoundary  ReadyReason = "boundary"
	ReasonStability ReadyReason = "stability"
)

// Segment is a contiguous slice of a session's linear history, bounded by
// either the session start, a boundary entry, or the session's current
// tail (spec.md §3). StartBoundary/EndBoundary are entry IDs, empty for the
// session start / current tail respectively.
type Segment struct {
	SessionFile   string
	StartBoundary string
	EndBoundary   string
	Entries       []session.Entry
}

// NodeBoundary is the boundary identifier this segment resolves to for
// NodeID purposes: its closing boundary if one exists, else a tail marker
// derived from StartBoundary. A segment's boundary identifier is stable
// once observed in a committed analysis, and distinct per segment (spec.md
// §3 invariant a) — two open tail segments in the same session file, one
// preceded by a compaction the other isn't, must not resolve to the same
// identifier, so an open tail whose history was cut by a prior boundary
// carries that boundary's ID rather than the bare "tail" literal.
func (s Segment) NodeBoundary() string {
	if s.EndBoundary != "" {
		return s.EndBoundary
	}
	if s.StartBoundary != "" {
		return "tail:" + s.StartBoundary
	}
	return "tail"
}

// worthAnalyzing reports whether a segment meets the spec's minimum size:
// at least cfg.MinEntries entries, at least one user and one assistant
// message, and at least cfg.MinTokens estimated tokens.
func (s Segment) worthAnalyzing(cfg Config) bool {
	if len(s.Entries) < cfg.MinEntries {
		return false
	}
	var hasUser, hasAssistant bool
	var tokens int
	for _, e := range s.Entries {
		if e.Type != session.EntryMessage {
			continue
		}
		switch e.Role {
		case session.RoleUser:
			hasUser = true
		case session.RoleAssistant:
			hasAssistant = true
		}
		tokens += e.EstimatedTokens()
	}
	return hasUser && hasAssistant && tokens >= cfg.MinTokens
}

// Candidate is one job the extractor proposes enqueueing. CompactionHint,
// when non-empty, names the node boundary of the immediately preceding
// sub-segment in a multi-compaction split — the caller records a
// "compaction" edge hint between the two resulting nodes (spec.md §4.2).
type Candidate struct {
	Segment        Segment
	Kind           string // "initial" or "reanalysis"
	CompactionHint string
}
