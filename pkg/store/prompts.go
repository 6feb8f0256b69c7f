package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PromptVersion identifies the analyzer prompt's content (spec.md §3).
type PromptVersion struct {
	Label     string // "v{n}-{hash8}"
	Sequence  int
	Hash      string
	Reason    string
	CreatedAt time.Time
}

var htmlCommentRe = regexp.MustCompile(`<!--[\s\S]*?-->`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizePrompt trims, collapses whitespace, and strips HTML-style
// comments, per spec.md §3's prompt-version invariant: "identical
// normalized content ⇒ identical version; semantic bumps are forced by
// appending a version-bump comment" — the comment strip means a plain
// whitespace edit never bumps the version, but a comment explicitly added
// to force a bump does (its surrounding text still changes the hash only
// if it isn't itself a stripped comment; callers force a bump by editing
// real content, e.g. `prompt bump --reason`, which the CLI appends outside
// a comment).
func NormalizePrompt(content string) string {
	stripped := htmlCommentRe.ReplaceAllString(content, "")
	collapsed := whitespaceRe.ReplaceAllString(strings.TrimSpace(stripped), " ")
	return collapsed
}

// HashPrompt returns the first 8 hex chars of SHA-256 over the normalized
// prompt content.
func HashPrompt(content string) string {
	sum := sha256.Sum256([]byte(NormalizePrompt(content)))
	return hex.EncodeToString(sum[:])[:8]
}

// ResolvePromptVersion looks up the prompt version for the given content's
// normalized hash, creating a new sequential version if none exists yet.
// Identical normalized content always resolves to the same label.
func (s *Store) ResolvePromptVersion(ctx context.Context, content, reason string) (PromptVersion, error) {
	hash := HashPrompt(content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PromptVersion{}, fmt.Errorf("begin prompt version transaction: %w", err)
	}
	defer tx.Rollback()

	var label, existingReason string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT label, reason, created_at FROM prompt_versions WHERE hash = ?`, hash).
		Scan(&label, &existingReason, &createdAt)
	if err == nil {
		if cerr := tx.Commit(); cerr != nil {
			return PromptVersion{}, cerr
		}
		seq, _ := parseSequence(label)
		return PromptVersion{Label: label, Sequence: seq, Hash: hash, Reason: existingReason, CreatedAt: createdAt}, nil
	}
	if err != sql.ErrNoRows {
		return PromptVersion{}, fmt.Errorf("look up prompt version: %w", err)
	}

	var maxSeq int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompt_versions`).Scan(&maxSeq); err != nil {
		return PromptVersion{}, fmt.Errorf("count prompt versions: %w", err)
	}
	seq := maxSeq + 1
	newLabel := fmt.Sprintf("v%d-%s", seq, hash)
	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_versions (label, hash, reason, created_at) VALUES (?, ?, ?, ?)
	`, newLabel, hash, reason, now)
	if err != nil {
		return PromptVersion{}, fmt.Errorf("insert prompt version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PromptVersion{}, fmt.Errorf("commit prompt version: %w", err)
	}

	return PromptVersion{Label: newLabel, Sequence: seq, Hash: hash, Reason: reason, CreatedAt: now}, nil
}

func parseSequence(label string) (int, error) {
	var n int
	_, err := fmt.Sscanf(label, "v%d-", &n)
	return n, err
}

// LatestPromptVersion returns the most recently created prompt version, if
// any have been resolved yet.
func (s *Store) LatestPromptVersion(ctx context.Context) (PromptVersion, bool, error) {
	var pv PromptVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT label, hash, reason, created_at FROM prompt_versions ORDER BY created_at DESC LIMIT 1
	`).Scan(&pv.Label, &pv.Hash, &pv.Reason, &pv.CreatedAt)
	if err == sql.ErrNoRows {
		return PromptVersion{}, false, nil
	}
	if err != nil {
		return PromptVersion{}, false, fmt.Errorf("latest prompt version: %w", err)
	}
	pv.Sequence, _ = parseSequence(pv.Label)
	return pv, true, nil
}
