package segment

import (
	"testing"
	"time"

	"github.com/brain-daemon/brain/pkg/session"
	"github.com/stretchr/testify/require"
)

type fakeDedup struct {
	nonTerminal map[string]bool
	nodeVersion map[string]string
}

func key(file, boundary, kind string) string { return file + "|" + boundary + "|" + kind }

func (f *fakeDedup) HasNonTerminalJob(sessionFile, boundary, kind string) (bool, error) {
	return f.nonTerminal[key(sessionFile, boundary, kind)], nil
}

func (f *fakeDedup) ExistingNodePromptVersion(sessionFile, boundary string) (string, bool, error) {
	v, ok := f.nodeVersion[sessionFile+"|"+boundary]
	return v, ok, nil
}

func longText(words int) string {
	s := ""
	for i := 0; i < words; i++ {
		s += "word "
	}
	return s
}

func buildEntries(old bool) []session.Entry {
	ts := time.Now()
	if old {
		ts = time.Now().Add(-20 * time.Minute)
	}
	return []session.Entry{
		{Type: session.EntryMessage, ID: "e1", Role: session.RoleUser, Text: longText(60), Timestamp: ts},
		{Type: session.EntryMessage, ID: "e2", Role: session.RoleAssistant, Text: longText(60), Timestamp: ts},
		{Type: session.EntryMessage, ID: "e3", Role: session.RoleUser, Text: "ok", Timestamp: ts},
	}
}

func TestProcessIdleReadyProducesInitialCandidate(t *testing.T) {
	ex := New(DefaultConfig())
	ps := &session.ParsedSession{Path: "/sessions/a.jsonl", ModTime: time.Now(), Entries: buildEntries(true)}
	dedup := &fakeDedup{nonTerminal: map[string]bool{}, nodeVersion: map[string]string{}}

	cands, err := ex.Process(ps, time.Now(), false, "v1-abcd1234", dedup)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "initial", cands[0].Kind)
	require.Equal(t, "tail", cands[0].Segment.NodeBoundary())
}

func TestProcessNotReadyWhenRecent(t *testing.T) {
	ex := New(DefaultConfig())
	ps := &session.ParsedSession{Path: "/sessions/a.jsonl", ModTime: time.Now(), Entries: buildEntries(false)}
	dedup := &fakeDedup{nonTerminal: map[string]bool{}, nodeVersion: map[string]string{}}

	cands, err := ex.Process(ps, time.Now(), false, "v1-abcd1234", dedup)
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestProcessSkipsWhenNodeUpToDate(t *testing.T) {
	ex := New(DefaultConfig())
	ps := &session.ParsedSession{Path: "/sessions/a.jsonl", ModTime: time.Now(), Entries: buildEntries(true)}
	dedup := &fakeDedup{
		nonTerminal: map[string]bool{},
		nodeVersion: map[string]string{"/sessions/a.jsonl|tail": "v1-abcd1234"},
	}

	cands, err := ex.Process(ps, time.Now(), false, "v1-abcd1234", dedup)
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestProcessReanalysisWhenPromptVersionDiffers(t *testing.T) {
	ex := New(DefaultConfig())
	ps := &session.ParsedSession{Path: "/sessions/a.jsonl", ModTime: time.Now(), Entries: buildEntries(true)}
	dedup := &fakeDedup{
		nonTerminal: map[string]bool{},
		nodeVersion: map[string]string{"/sessions/a.jsonl|tail": "v1-abcd1234"},
	}

	cands, err := ex.Process(ps, time.Now(), false, "v2-ffff0000", dedup)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "reanalysis", cands[0].Kind)
}

func TestProcessSkipsWhenNonTerminalJobExists(t *testing.T) {
	ex := New(DefaultConfig())
	ps := &session.ParsedSession{Path: "/sessions/a.jsonl", ModTime: time.Now(), Entries: buildEntries(true)}
	dedup := &fakeDedup{
		nonTerminal: map[string]bool{"/sessions/a.jsonl|tail|initial": true},
		nodeVersion: map[string]string{},
	}

	cands, err := ex.Process(ps, time.Now(), false, "v1-abcd1234", dedup)
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestSplitMultiCompaction(t *testing.T) {
	ts := time.Now()
	entries := []session.Entry{
		{Type: session.EntryMessage, ID: "e1", Role: session.RoleUser, Text: "hi", Timestamp: ts},
		{Type: session.EntryCompaction, ID: "c1", Timestamp: ts},
		{Type: session.EntryMessage, ID: "e2", Role: session.RoleUser, Text: "next", Timestamp: ts},
		{Type: session.EntryCompaction, ID: "c2", Timestamp: ts},
		{Type: session.EntryMessage, ID: "e3", Role: session.RoleUser, Text: "tail", Timestamp: ts},
	}
	segs := Split("/s.jsonl", entries)
	require.Len(t, segs, 3)
	require.Equal(t, "c1", segs[0].EndBoundary)
	require.Equal(t, "c1", segs[1].StartBoundary)
	require.Equal(t, "c2", segs[1].EndBoundary)
	require.Equal(t, "", segs[2].EndBoundary)
}

// TestNodeBoundaryDistinguishesTailErasAcrossCompaction guards against the
// pre-compaction tail (observed and committed before any boundary exists)
// colliding with a later, content-unrelated tail era that opened after an
// intervening compaction: both are open segments, but they must not resolve
// to the same NodeID boundary.
func TestNodeBoundaryDistinguishesTailErasAcrossCompaction(t *testing.T) {
	ts := time.Now()

	firstEraEntries := []session.Entry{
		{Type: session.EntryMessage, ID: "e1", Role: session.RoleUser, Text: "hi", Timestamp: ts},
	}
	firstEraTail := Split("/s.jsonl", firstEraEntries)[0]
	require.Equal(t, "", firstEraTail.StartBoundary)
	require.Equal(t, "tail", firstEraTail.NodeBoundary())

	secondEraEntries := []session.Entry{
		{Type: session.EntryMessage, ID: "e1", Role: session.RoleUser, Text: "hi", Timestamp: ts},
		{Type: session.EntryCompaction, ID: "c1", Timestamp: ts},
		{Type: session.EntryMessage, ID: "e2", Role: session.RoleUser, Text: "next", Timestamp: ts},
	}
	segs := Split("/s.jsonl", secondEraEntries)
	require.Len(t, segs, 2)
	secondEraTail := segs[1]
	require.Equal(t, "c1", secondEraTail.StartBoundary)

	require.NotEqual(t, firstEraTail.NodeBoundary(), secondEraTail.NodeBoundary())
	require.Equal(t, "tail:c1", secondEraTail.NodeBoundary())
}

func TestBoundaryOnlyReadyDoesNotProduceTailCandidate(t *testing.T) {
	ex := New(DefaultConfig())
	ts := time.Now()
	entries := []session.Entry{
		{Type: session.EntryMessage, ID: "e1", Role: session.RoleUser, Text: longText(60), Timestamp: ts},
		{Type: session.EntryMessage, ID: "e2", Role: session.RoleAssistant, Text: longText(60), Timestamp: ts},
		{Type: session.EntryCompaction, ID: "c1", Timestamp: ts},
		{Type: session.EntryMessage, ID: "e3", Role: session.RoleUser, Text: "short", Timestamp: ts},
	}
	ps := &session.ParsedSession{Path: "/sessions/b.jsonl", ModTime: ts, Entries: entries}
	dedup := &fakeDedup{nonTerminal: map[string]bool{}, nodeVersion: map[string]string{}}

	cands, err := ex.Process(ps, ts, false, "v1-abcd1234", dedup)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "c1", cands[0].Segment.EndBoundary)
}
