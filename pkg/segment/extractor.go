package segment

import (
	"fmt"
	"sync"
	"time"

	"github.com/brain-daemon/brain/pkg/session"
)

// Deduper lets the extractor consult the Job Queue and Node Store before
// proposing a candidate, so it never proposes a job that would be rejected
// as a duplicate (spec.md §4.2 "Dedup").
type Deduper interface {
	HasNonTerminalJob(sessionFile, boundary, kind string) (bool, error)
	ExistingNodePromptVersion(sessionFile, boundary string) (version string, exists bool, err error)
}

type fileState struct {
	processedBoundaries map[string]bool
	stableSince         time.Time
	lastModTime         time.Time
}

// Extractor turns session readiness events into analysis-job candidates.
// One Extractor instance is shared by the daemon's watch loop; it keeps
// small per-session-file bookkeeping so a boundary is only ever proposed
// once.
type Extractor struct {
	cfg Config
	mu  sync.Mutex
	st  map[string]*fileState
}

// New constructs an Extractor with the given readiness configuration.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg, st: make(map[string]*fileState)}
}

func (ex *Extractor) stateFor(path string) *fileState {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	s, ok := ex.st[path]
	if !ok {
		s = &fileState{processedBoundaries: make(map[string]bool)}
		ex.st[path] = s
	}
	return s
}

// Process evaluates one readiness event (the session file identified by
// ps.Path has changed) and returns the candidates worth enqueueing, if any.
// externalOrigin selects the stability threshold: files written by a local
// process use the short threshold, files arriving via external sync use
// the longer one (spec.md §4.2).
func (ex *Extractor) Process(ps *session.ParsedSession, now time.Time, externalOrigin bool, currentPromptVersion string, dedup Deduper) ([]Candidate, error) {
	fs := ex.stateFor(ps.Path)

	ex.mu.Lock()
	if !fs.lastModTime.Equal(ps.ModTime) {
		fs.lastModTime = ps.ModTime
		fs.stableSince = now
	}
	stableFor := now.Sub(fs.stableSince)
	ex.mu.Unlock()

	threshold := ex.cfg.StabilityLocal
	if externalOrigin {
		threshold = ex.cfg.StabilityExternal
	}
	stabilityReady := stableFor >= threshold

	idleReady := false
	if tail, ok := ps.TailEntry(); ok {
		idleReady = now.Sub(tail.Timestamp) >= ex.cfg.IdleTimeout
	}

	segments := Split(ps.Path, ps.Entries)

	ex.mu.Lock()
	boundaryReady := false
	for _, seg := range segments {
		if seg.EndBoundary != "" && !fs.processedBoundaries[seg.EndBoundary] {
			boundaryReady = true
			break
		}
	}
	ex.mu.Unlock()

	if !idleReady && !stabilityReady && !boundaryReady {
		return nil, nil
	}

	var candidates []Candidate
	prevNodeBoundary := ""
	for _, seg := range segments {
		if seg.EndBoundary != "" {
			ex.mu.Lock()
			already := fs.processedBoundaries[seg.EndBoundary]
			ex.mu.Unlock()
			if !already {
				if seg.worthAnalyzing(ex.cfg) {
					cand, err := buildCandidate(seg, currentPromptVersion, dedup)
					if err != nil {
						return nil, fmt.Errorf("build candidate for %s boundary %s: %w", seg.SessionFile, seg.EndBoundary, err)
					}
					if cand != nil {
						if isCompactionBoundary(seg) && prevNodeBoundary != "" {
							cand.CompactionHint = prevNodeBoundary
						}
						candidates = append(candidates, *cand)
					}
				}
				ex.mu.Lock()
				fs.processedBoundaries[seg.EndBoundary] = true
				ex.mu.Unlock()
			}
			prevNodeBoundary = seg.NodeBoundary()
			continue
		}

		// Tail segment: only a candidate once idle or stable, never merely
		// because a boundary fired elsewhere in the file.
		if (idleReady || stabilityReady) && seg.worthAnalyzing(ex.cfg) {
			cand, err := buildCandidate(seg, currentPromptVersion, dedup)
			if err != nil {
				return nil, fmt.Errorf("build candidate for %s tail: %w", seg.SessionFile, err)
			}
			if cand != nil {
				candidates = append(candidates, *cand)
			}
		}
	}

	return candidates, nil
}

func isCompactionBoundary(seg Segment) bool {
	for i := len(seg.Entries) - 1; i >= 0; i-- {
		if seg.Entries[i].ID == seg.EndBoundary {
			return seg.Entries[i].Type == session.EntryCompaction
		}
	}
	return false
}

func buildCandidate(seg Segment, currentPromptVersion string, dedup Deduper) (*Candidate, error) {
	boundary := seg.NodeBoundary()

	hasInitial, err := dedup.HasNonTerminalJob(seg.SessionFile, boundary, "initial")
	if err != nil {
		return nil, err
	}
	if hasInitial {
		return nil, nil
	}

	version, exists, err := dedup.ExistingNodePromptVersion(seg.SessionFile, boundary)
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Candidate{Segment: seg, Kind: "initial"}, nil
	}
	if version == currentPromptVersion {
		return nil, nil
	}

	hasReanalysis, err := dedup.HasNonTerminalJob(seg.SessionFile, boundary, "reanalysis")
	if err != nil {
		return nil, err
	}
	if hasReanalysis {
		return nil, nil
	}
	return &Candidate{Segment: seg, Kind: "reanalysis"}, nil
}

// Split slices a session's entries into segments bounded by the session
// start, boundary entries, or the current tail. A boundary entry belongs
// to both the closing segment (as its tail) and the opening segment (as
// initial context), per spec.md §3 invariant b.
func Split(path string, entries []session.Entry) []Segment {
	var segments []Segment
	current := Segment{SessionFile: path}

	for _, e := range entries {
		current.Entries = append(current.Entries, e)
		if e.IsBoundary() {
			current.EndBoundary = e.ID
			segments = append(segments, current)
			current = Segment{SessionFile: path, StartBoundary: e.ID, Entries: []session.Entry{e}}
		}
	}
	segments = append(segments, current)
	return segments
}
