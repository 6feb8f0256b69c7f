package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// maxLineSize bounds a single JSONL line; session entries can carry large
// tool-result payloads, so the scanner buffer is generous.
const maxLineSize = 8 * 1024 * 1024

// rawEntry is the superset of fields the parser recognizes across known
// entry types; unrecognized fields round-trip via Entry.Raw, not this
// struct, so new external fields never need a parser change.
type rawEntry struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	ParentID  *string   `json:"parentId"`
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	ToolName  string    `json:"toolName"`
	Files     []string  `json:"files"`
}

// Parse reads a session file from disk in full and returns its header and
// entry history. The core never mutates these files, only reads them.
func Parse(path string) (*ParsedSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat session file %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	ps := &ParsedSession{Path: path, ModTime: info.ModTime(), Size: info.Size()}

	first := true
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if first {
			first = false
			var h Header
			if err := json.Unmarshal(line, &h); err != nil {
				return nil, fmt.Errorf("parse session header at %s:1: %w", path, err)
			}
			ps.Header = h
			continue
		}

		var re rawEntry
		if err := json.Unmarshal(line, &re); err != nil {
			// A malformed non-header line is tolerated: sessions are
			// written by an external producer while the daemon reads, so
			// a torn final write is expected, not fatal.
			continue
		}

		entry := Entry{
			Type:      EntryType(re.Type),
			ID:        re.ID,
			Timestamp: re.Timestamp,
			Role:      MessageRole(re.Role),
			Text:      re.Text,
			ToolName:  re.ToolName,
			Files:     re.Files,
			Raw:       append([]byte(nil), line...),
		}
		if re.ParentID != nil {
			entry.ParentID = *re.ParentID
		}
		ps.Entries = append(ps.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session file %s: %w", path, err)
	}
	if first {
		return nil, fmt.Errorf("session file %s: %w", path, ErrEmptySession)
	}

	return ps, nil
}

// ErrEmptySession is returned by Parse when a file has no header line at
// all (an empty or still-being-created file). The Segment Extractor treats
// this as a permanent error: no retry can make an empty file non-empty.
var ErrEmptySession = errFmt("empty session file")

type errFmt string

func (e errFmt) Error() string { return string(e) }
