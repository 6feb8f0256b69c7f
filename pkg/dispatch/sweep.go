package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/brain-daemon/brain/pkg/queue"
	"github.com/brain-daemon/brain/pkg/store"
)

// A scheduled job's SessionFile is always empty (scheduler.Scheduler only
// ever enqueues global-sweep jobs); the Dispatcher doesn't need job beyond
// its Kind and RetryCount for any of the four sweep kinds.

func (d *Dispatcher) executeConnectionDiscovery(ctx context.Context, job store.Job) queue.Outcome {
	n, err := d.discoverer.DiscoverAll(ctx)
	if err != nil {
		return d.failSweep(job, fmt.Errorf("connection discovery sweep: %w", err))
	}
	d.log.Info("connection discovery sweep complete", "job_id", job.ID, "nodes_processed", n)
	return queue.Outcome{State: store.JobSucceeded}
}

func (d *Dispatcher) executeClustering(ctx context.Context, job store.Job) queue.Outcome {
	n, err := d.discoverer.RunClustering(ctx)
	if err != nil {
		return d.failSweep(job, fmt.Errorf("clustering: %w", err))
	}
	d.log.Info("clustering complete", "job_id", job.ID, "clusters_saved", n)
	return queue.Outcome{State: store.JobSucceeded}
}

// executeEmbeddingBackfill embeds the summary of every current-version node
// missing an embedding (spec.md §4.8). A per-node embed failure is logged
// and skipped rather than failing the whole job — one bad text shouldn't
// block the rest of the backfill.
func (d *Dispatcher) executeEmbeddingBackfill(ctx context.Context, job store.Job) queue.Outcome {
	if d.embedder == nil {
		return queue.Outcome{State: store.JobSucceeded}
	}

	summaries, err := d.st.ListNodes(ctx, store.NodeFilter{MissingEmbedding: true, Limit: 1000})
	if err != nil {
		return d.failSweep(job, fmt.Errorf("list nodes missing embeddings: %w", err))
	}

	embedded := 0
	for _, summary := range summaries {
		if ctx.Err() != nil {
			return d.failSweep(job, fmt.Errorf("embedding backfill interrupted: %w", ctx.Err()))
		}
		if summary.Summary == "" {
			continue
		}
		vecs, err := d.embedder.Embed(ctx, []string{summary.Summary})
		if err != nil || len(vecs) != 1 {
			d.log.Warn("embedding backfill failed for node", "node_id", summary.ID, "error", err)
			continue
		}
		blob, err := store.SerializeEmbedding(vecs[0])
		if err != nil {
			d.log.Warn("serialize embedding failed for node", "node_id", summary.ID, "error", err)
			continue
		}
		if err := d.st.UpsertEmbedding(ctx, summary.ID, d.embedder.Model(), blob); err != nil {
			d.log.Warn("upsert embedding failed for node", "node_id", summary.ID, "error", err)
			continue
		}
		embedded++
	}
	d.log.Info("embedding backfill complete", "job_id", job.ID, "embedded", embedded, "candidates", len(summaries))
	return queue.Outcome{State: store.JobSucceeded}
}

// executePatternAggregation derives aggregated store.Insight rows from
// every current node's recorded errors and lessons (spec.md §4.8;
// complements rather than duplicates the live query-time aggregation the
// /api/v1/patterns/* endpoints already compute — this job's output is
// durable and is what §3's prompt_included gate operates over).
func (d *Dispatcher) executePatternAggregation(ctx context.Context, job store.Job) queue.Outcome {
	nodes, err := d.st.ListNodes(ctx, store.NodeFilter{Limit: 100000})
	if err != nil {
		return d.failSweep(job, fmt.Errorf("list nodes for pattern aggregation: %w", err))
	}

	type agg struct {
		typ         store.InsightType
		model, tool string
		pattern     string
		count       int
		examples    []string
	}
	buckets := make(map[string]*agg)
	bucket := func(typ store.InsightType, model, tool, pattern string) *agg {
		key := string(typ) + "\x00" + model + "\x00" + tool + "\x00" + pattern
		a, ok := buckets[key]
		if !ok {
			a = &agg{typ: typ, model: model, tool: tool, pattern: pattern}
			buckets[key] = a
		}
		return a
	}

	for _, summary := range nodes {
		if ctx.Err() != nil {
			return d.failSweep(job, fmt.Errorf("pattern aggregation interrupted: %w", ctx.Err()))
		}
		node, err := d.st.GetNode(ctx, summary.ID)
		if err != nil {
			continue
		}
		for _, errMsg := range node.Content.ErrorsSeen {
			a := bucket(store.InsightToolError, "", firstToolUsed(node), errMsg)
			a.count++
			a.examples = appendExample(a.examples, summary.ID)
		}
		for level, lessons := range node.Lessons {
			for _, lesson := range lessons {
				model := ""
				if level == store.LessonModel {
					model = node.Classification.Language
				}
				a := bucket(store.InsightLesson, model, "", lesson)
				a.count++
				a.examples = appendExample(a.examples, summary.ID)
			}
		}
		if node.Content.Outcome == store.OutcomeFailed && node.Content.Summary != "" {
			a := bucket(store.InsightFailure, "", "", node.Content.Summary)
			a.count++
			a.examples = appendExample(a.examples, summary.ID)
		}
	}

	saved := 0
	for _, a := range buckets {
		in := store.Insight{
			ID:         insightID(a.typ, a.model, a.tool, a.pattern),
			Type:       a.typ,
			Model:      a.model,
			Tool:       a.tool,
			Pattern:    a.pattern,
			Frequency:  a.count,
			Confidence: confidenceFromFrequency(a.count),
			Examples:   a.examples,
		}
		if _, err := d.st.UpsertInsight(ctx, in); err != nil {
			d.log.Warn("upsert aggregated insight failed", "job_id", job.ID, "error", err)
			continue
		}
		saved++
	}
	d.log.Info("pattern aggregation complete", "job_id", job.ID, "insights_saved", saved, "nodes_scanned", len(nodes))
	return queue.Outcome{State: store.JobSucceeded}
}

func (d *Dispatcher) failSweep(job store.Job, err error) queue.Outcome {
	d.log.Warn("scheduled job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
	return queue.Outcome{State: store.JobFailed, ErrorCategory: store.ErrorTransient, LastError: err.Error()}
}

func firstToolUsed(n store.Node) string {
	if len(n.Content.ToolsUsed) == 0 {
		return ""
	}
	return n.Content.ToolsUsed[0]
}

func appendExample(examples []string, nodeID string) []string {
	const maxExamples = 5
	if len(examples) >= maxExamples {
		return examples
	}
	for _, e := range examples {
		if e == nodeID {
			return examples
		}
	}
	return append(examples, nodeID)
}

func confidenceFromFrequency(n int) float64 {
	// Saturating curve: a pattern seen once is low-confidence, ten-plus
	// occurrences saturate near 1.0.
	c := float64(n) / 10
	if c > 1 {
		c = 1
	}
	return c
}

// insightID derives a stable, deterministic id for an aggregated insight so
// repeated pattern_aggregation runs upsert the same row instead of growing
// the table forever (store.UpsertInsight upserts by ID, not by content).
func insightID(typ store.InsightType, model, tool, pattern string) string {
	sum := sha256.Sum256([]byte(string(typ) + "\x00" + model + "\x00" + tool + "\x00" + pattern))
	return hex.EncodeToString(sum[:])[:24]
}
