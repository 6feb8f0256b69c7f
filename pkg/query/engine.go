// Package query implements the Query Engine (spec.md §4.10): it answers a
// free-text question over the accumulated knowledge base by assembling a
// bounded context from full-text and semantic search, then invoking the
// analyzer in a separate, synchronous subprocess call that bypasses the
// Job Queue entirely — a question never competes with reanalysis for a
// worker slot.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/store"
)

// Embedder turns free text into the vector space a node's Semantic.Embedding
// lives in. It is optional: when nil, the Query Engine falls back to
// full-text-only context assembly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Source is one node the answer drew on, with its relevance score.
type Source struct {
	NodeID  string  `json:"nodeId"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

// Result is the Query Engine's response (spec.md §4.10:
// "{answer, summary, confidence, sources[]}").
type Result struct {
	Answer     string   `json:"answer"`
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
}

// maxContextChars bounds how much node text is packed into the analyzer
// prompt, standing in for a token budget (spec.md §4.10: "bounded context
// assembly respecting a token budget") without pulling in a tokenizer
// dependency for a rough per-character proxy.
const maxContextChars = 12000

// Engine answers questions against the Node Store.
type Engine struct {
	st       *store.Store
	cfg      config.AnalyzerConfig
	embedCfg config.EmbeddingConfig
	embedder Embedder
}

// NewEngine builds a Query Engine bound to the given store and analyzer
// configuration. embedder may be nil.
func NewEngine(st *store.Store, cfg config.AnalyzerConfig, embedCfg config.EmbeddingConfig, embedder Embedder) *Engine {
	return &Engine{st: st, cfg: cfg, embedCfg: embedCfg, embedder: embedder}
}

// Ask assembles context for question (optionally narrowed to project and
// a since cutoff), invokes the analyzer in query mode, and returns its
// structured answer.
func (e *Engine) Ask(ctx context.Context, question, project string, since time.Time, topK int) (Result, error) {
	if topK <= 0 {
		topK = 10
	}
	candidates, err := e.gatherCandidates(ctx, question, topK)
	if err != nil {
		return Result{}, fmt.Errorf("gather query candidates: %w", err)
	}

	sources, context := e.assembleContext(ctx, candidates, project, since)
	if len(sources) == 0 {
		return Result{
			Answer:     "No relevant knowledge nodes were found for this question.",
			Summary:    "no matches",
			Confidence: 0,
		}, nil
	}

	instructions, err := json.Marshal(struct {
		Question string   `json:"question"`
		Context  []string `json:"context"`
	}{Question: question, Context: context})
	if err != nil {
		return Result{}, fmt.Errorf("marshal query instructions: %w", err)
	}

	out, err := invokeQuery(ctx, e.cfg, string(instructions))
	if err != nil {
		return Result{}, err
	}

	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		return Result{}, fmt.Errorf("parse query analyzer output: %w", err)
	}
	res.Sources = sources
	return res, nil
}

type candidate struct {
	nodeID string
	score  float64
}

func (e *Engine) gatherCandidates(ctx context.Context, question string, topK int) ([]candidate, error) {
	byID := make(map[string]float64)

	ftsHits, err := e.st.SearchFullText(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	for _, h := range ftsHits {
		byID[h.NodeID] = h.Score
	}

	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, question)
		if err == nil {
			semHits, err := e.st.SemanticSearch(ctx, e.embedCfg.Model, vec, topK, 0)
			if err == nil {
				for _, h := range semHits {
					if cur, ok := byID[h.NodeID]; !ok || h.Score > cur {
						byID[h.NodeID] = h.Score
					}
				}
			}
		}
		// Embedding failures degrade to full-text-only results rather than
		// failing the whole query — the question still deserves an answer.
	}

	out := make([]candidate, 0, len(byID))
	for id, score := range byID {
		out = append(out, candidate{nodeID: id, score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// assembleContext loads each candidate node, applies the project/since
// filters, and packs summaries (and key lessons) into the prompt context
// until maxContextChars is reached.
func (e *Engine) assembleContext(ctx context.Context, candidates []candidate, project string, since time.Time) ([]Source, []string) {
	var sources []Source
	var context []string
	budget := maxContextChars

	for _, c := range candidates {
		n, err := e.st.GetNode(ctx, c.nodeID)
		if err != nil {
			continue
		}
		if project != "" && n.Classification.Project != project {
			continue
		}
		if !since.IsZero() && n.Metadata.Timestamp.Before(since) {
			continue
		}

		entry := fmt.Sprintf("[%s] %s: %s", n.Classification.Project, n.ID, n.Content.Summary)
		for _, lessons := range n.Lessons {
			for _, l := range lessons {
				entry += "\n- lesson: " + l
			}
		}
		if budget-len(entry) < 0 {
			break
		}
		budget -= len(entry)

		context = append(context, entry)
		sources = append(sources, Source{NodeID: n.ID, Score: c.score, Summary: n.Content.Summary})
	}
	return sources, context
}

// invokeQuery spawns the analyzer in its query prompt/model configuration.
// This deliberately does not reuse analyzer.Invoke: that call is bound to
// the initial/reanalysis Node schema (entries in, Node out), while the
// Query Engine exchanges a free-text question for a
// {answer,summary,confidence,sources} document under a distinct prompt and
// (often cheaper/faster) model. The subprocess contract — process-group
// kill on timeout, --mode json, -p payload — is kept identical.
func invokeQuery(ctx context.Context, cfg config.AnalyzerConfig, instructions string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	args := []string{
		"--provider", cfg.Provider,
		"--model", cfg.QueryModel,
		"--system-prompt", cfg.QueryPromptFile,
		"--no-session",
		"--mode", "json",
		"-p", instructions,
	}
	cmd := exec.CommandContext(runCtx, cfg.Binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start query analyzer: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
		waitErr = <-done
		return nil, fmt.Errorf("query analyzer timed out: %w", errors.Join(runCtx.Err(), waitErr))
	}

	if waitErr != nil {
		return nil, fmt.Errorf("query analyzer exited with error: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
