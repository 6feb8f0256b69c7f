package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsightType enumerates the kind of aggregated pattern (spec.md §3).
type InsightType string

const (
	InsightQuirk     InsightType = "quirk"
	InsightToolError InsightType = "tool_error"
	InsightFailure   InsightType = "failure"
	InsightWin       InsightType = "win"
	InsightLesson    InsightType = "lesson"
)

// Insight is an aggregated pattern derived across many nodes. Its
// PromptIncluded flag controls injection into analyzer skills — never into
// unrelated user sessions (spec.md §3).
type Insight struct {
	ID                    string
	Type                  InsightType
	Model                 string
	Tool                  string
	Pattern               string
	Frequency             int
	Confidence            float64
	Severity              string
	Examples              []string
	PromptText            string
	PromptIncluded        bool
	EffectivenessHistory  []string
	CreatedAt             time.Time
}

// UpsertInsight inserts or replaces an aggregated insight row.
func (s *Store) UpsertInsight(ctx context.Context, in Insight) (Insight, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	examplesJSON, err := json.Marshal(in.Examples)
	if err != nil {
		return Insight{}, fmt.Errorf("marshal insight examples: %w", err)
	}
	historyJSON, err := json.Marshal(in.EffectivenessHistory)
	if err != nil {
		return Insight{}, fmt.Errorf("marshal insight effectiveness history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompt_insights (
			id, type, model, tool, pattern, frequency, confidence, severity,
			examples_json, prompt_text, prompt_included, effectiveness_history_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			frequency = excluded.frequency, confidence = excluded.confidence,
			severity = excluded.severity, examples_json = excluded.examples_json,
			prompt_included = excluded.prompt_included,
			effectiveness_history_json = excluded.effectiveness_history_json
	`, in.ID, string(in.Type), in.Model, in.Tool, in.Pattern, in.Frequency, in.Confidence, in.Severity,
		string(examplesJSON), in.PromptText, boolToInt(in.PromptIncluded), string(historyJSON), in.CreatedAt)
	if err != nil {
		return Insight{}, fmt.Errorf("upsert insight: %w", err)
	}
	return in, nil
}

// ListInsights returns insights of the given type (or all, if empty).
func (s *Store) ListInsights(ctx context.Context, typ InsightType) ([]Insight, error) {
	query := `SELECT id, type, model, tool, pattern, frequency, confidence, severity,
		examples_json, prompt_text, prompt_included, effectiveness_history_json, created_at
		FROM prompt_insights`
	var args []any
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY frequency DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var in Insight
		var typStr string
		var model, tool, severity, promptText sql.NullString
		var examplesJSON, historyJSON string
		var included int
		if err := rows.Scan(&in.ID, &typStr, &model, &tool, &in.Pattern, &in.Frequency, &in.Confidence,
			&severity, &examplesJSON, &promptText, &included, &historyJSON, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		in.Type = InsightType(typStr)
		in.Model = model.String
		in.Tool = tool.String
		in.Severity = severity.String
		in.PromptText = promptText.String
		in.PromptIncluded = included != 0
		_ = json.Unmarshal([]byte(examplesJSON), &in.Examples)
		_ = json.Unmarshal([]byte(historyJSON), &in.EffectivenessHistory)
		out = append(out, in)
	}
	return out, rows.Err()
}

// GetInsight returns a single insight by id, including its effectiveness
// history, for the HTTP surface's per-insight effectiveness endpoint.
func (s *Store) GetInsight(ctx context.Context, id string) (Insight, error) {
	var in Insight
	var typStr string
	var model, tool, severity, promptText sql.NullString
	var examplesJSON, historyJSON string
	var included int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, model, tool, pattern, frequency, confidence, severity,
			examples_json, prompt_text, prompt_included, effectiveness_history_json, created_at
		FROM prompt_insights WHERE id = ?
	`, id).Scan(&in.ID, &typStr, &model, &tool, &in.Pattern, &in.Frequency, &in.Confidence,
		&severity, &examplesJSON, &promptText, &included, &historyJSON, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return Insight{}, fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Insight{}, fmt.Errorf("get insight: %w", err)
	}

	in.Type = InsightType(typStr)
	in.Model = model.String
	in.Tool = tool.String
	in.Severity = severity.String
	in.PromptText = promptText.String
	in.PromptIncluded = included != 0
	_ = json.Unmarshal([]byte(examplesJSON), &in.Examples)
	_ = json.Unmarshal([]byte(historyJSON), &in.EffectivenessHistory)
	return in, nil
}

// AppendInsightEffectiveness appends one effectiveness observation (e.g.
// "included in prompt v7, reanalysis rate dropped 12%") to an insight's
// history.
func (s *Store) AppendInsightEffectiveness(ctx context.Context, id, observation string) error {
	in, err := s.GetInsight(ctx, id)
	if err != nil {
		return err
	}
	in.EffectivenessHistory = append(in.EffectivenessHistory, observation)
	_, err = s.UpsertInsight(ctx, in)
	return err
}

// PromptIncludedInsights returns insights flagged for injection into
// analyzer skills (spec.md §3's prompt_included gate).
func (s *Store) PromptIncludedInsights(ctx context.Context) ([]Insight, error) {
	all, err := s.ListInsights(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []Insight
	for _, in := range all {
		if in.PromptIncluded {
			out = append(out, in)
		}
	}
	return out, nil
}
