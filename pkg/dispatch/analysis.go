package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brain-daemon/brain/pkg/analyzer"
	"github.com/brain-daemon/brain/pkg/events"
	"github.com/brain-daemon/brain/pkg/queue"
	"github.com/brain-daemon/brain/pkg/session"
	"github.com/brain-daemon/brain/pkg/store"
)

// executeAnalysis runs one initial or reanalysis job: reconstruct the
// segment, mask it, invoke the external analyzer, and persist the result
// (spec.md §4.5).
func (d *Dispatcher) executeAnalysis(ctx context.Context, job store.Job) queue.Outcome {
	seg, err := reconstructSegment(job.SessionFile, job.SegmentBoundary)
	if err != nil {
		return d.failAnalysis(ctx, job, fmt.Errorf("reconstruct segment: %w", err), classifyReconstructError(err))
	}

	_, promptVersion, err := analyzer.PreparePrompt(ctx, d.st, d.analyzerCfg.PromptFile)
	if err != nil {
		return d.failAnalysis(ctx, job, fmt.Errorf("prepare prompt: %w", err),
			analyzer.Classification{Category: store.ErrorPermanent, MaxRetries: 0})
	}

	maskedEntries := make([]session.Entry, len(seg.Entries))
	redactions := 0
	for i, e := range seg.Entries {
		masked, n := d.masker.Mask(e.Text)
		e.Text = masked
		redactions += n
		maskedEntries[i] = e
	}
	if redactions > 0 {
		d.log.Info("masked sensitive content before analysis", "job_id", job.ID, "redactions", redactions)
	}

	result := analyzer.Invoke(ctx, analyzer.Request{
		Binary:          d.analyzerCfg.Binary,
		Provider:        d.analyzerCfg.Provider,
		Model:           d.analyzerCfg.Model,
		PromptFile:      d.analyzerCfg.PromptFile,
		Skills:          d.skillNames,
		PromptVersion:   promptVersion.Label,
		SessionFile:     job.SessionFile,
		SegmentBoundary: job.SegmentBoundary,
		Entries:         maskedEntries,
		Timeout:         0, // queue.Config.JobTimeout already bounds ctx; analyzer.Invoke defaults otherwise
		ShutdownGrace:   time.Duration(d.queueCfg.DrainGraceSeconds) * time.Second,
	})
	if result.Interrupted {
		d.log.Info("analysis interrupted by shutdown, releasing job as pending", "job_id", job.ID)
		return queue.Outcome{Interrupted: true}
	}
	if result.Err != nil {
		return d.failAnalysis(ctx, job, result.Err, result.Classification)
	}

	node := result.Node
	node.ID = store.NodeID(job.SessionFile, job.SegmentBoundary)
	node.Metadata.SourceSessionPath = job.SessionFile
	node.Metadata.SourceBoundary = job.SegmentBoundary
	node.Metadata.PromptVersion = promptVersion.Label
	if node.Metadata.Timestamp.IsZero() {
		if tail, ok := seg.TailEntry(); ok {
			node.Metadata.Timestamp = tail.Timestamp
		}
	}
	if result.PartiallySalvaged {
		d.log.Warn("analyzer output partially salvaged", "job_id", job.ID, "node_id", node.ID)
	}

	if d.embedder != nil && len(node.Semantic.Embedding) == 0 && node.Content.Summary != "" {
		if vecs, embedErr := d.embedder.Embed(ctx, []string{node.Content.Summary}); embedErr == nil && len(vecs) == 1 {
			if blob, serErr := store.SerializeEmbedding(vecs[0]); serErr == nil {
				node.Semantic.Embedding = blob
				node.Semantic.EmbeddingModel = d.embedder.Model()
			} else {
				d.log.Warn("serialize summary embedding failed, node saved without it", "job_id", job.ID, "error", serErr)
			}
		} else if embedErr != nil {
			d.log.Warn("summary embedding failed, node saved without it", "job_id", job.ID, "error", embedErr)
		}
	}

	saved, err := d.st.SaveNode(ctx, node)
	if err != nil {
		return d.failAnalysis(ctx, job, fmt.Errorf("save node: %w", err),
			analyzer.Classification{Category: store.ErrorTransient, MaxRetries: 3})
	}

	if job.CompactionHint != "" {
		prevNodeID := store.NodeID(job.SessionFile, job.CompactionHint)
		if err := d.discoverer.RecordCompactionEdge(ctx, prevNodeID, saved.ID); err != nil {
			d.log.Warn("record compaction edge failed", "job_id", job.ID, "error", err)
		}
	}

	if err := d.discoverer.DiscoverForNode(ctx, saved.ID, true); err != nil {
		d.log.Warn("on-demand connection discovery failed", "job_id", job.ID, "node_id", saved.ID, "error", err)
	}

	d.publish(events.ChannelNode, events.TypeNodeCreated, events.NodeCreatedPayload{
		NodeID: saved.ID, Version: saved.Version, Project: saved.Classification.Project,
		Summary: saved.Content.Summary, Timestamp: nowStamp(),
	})
	d.publish(events.ChannelAnalysis, events.TypeAnalysisCompleted, events.AnalysisCompletedPayload{
		JobID: job.ID, NodeID: saved.ID, Kind: string(job.Kind), Timestamp: nowStamp(),
	})

	return queue.Outcome{State: store.JobSucceeded}
}

// failAnalysis classifies and publishes a failed analysis attempt, applying
// the backoff delay before returning so the worker pool's immediate-requeue
// doesn't spin (spec.md §4.5).
func (d *Dispatcher) failAnalysis(ctx context.Context, job store.Job, err error, cls analyzer.Classification) queue.Outcome {
	d.log.Warn("analysis job failed", "job_id", job.ID, "kind", job.Kind, "category", cls.Category, "error", err)

	willRetry := cls.Category != store.ErrorPermanent && job.RetryCount+1 <= cls.MaxRetries
	d.publish(events.ChannelAnalysis, events.TypeAnalysisFailed, events.AnalysisFailedPayload{
		JobID: job.ID, Kind: string(job.Kind), ErrorCategory: string(cls.Category),
		LastError: err.Error(), WillRetry: willRetry, Timestamp: nowStamp(),
	})

	if willRetry {
		d.backoff(ctx, job.RetryCount)
	}

	return queue.Outcome{State: store.JobFailed, ErrorCategory: cls.Category, LastError: err.Error()}
}

// classifyReconstructError maps a segment-reconstruction failure to a retry
// category: a vanished or empty session file can never succeed on retry, but
// any other read failure (e.g. a transient filesystem hiccup) might.
func classifyReconstructError(err error) analyzer.Classification {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, session.ErrEmptySession) {
		return analyzer.Classification{Category: store.ErrorPermanent, MaxRetries: 0}
	}
	var notFound errSegmentNotFound
	if errors.As(err, &notFound) {
		return analyzer.Classification{Category: store.ErrorPermanent, MaxRetries: 0}
	}
	return analyzer.Classification{Category: store.ErrorTransient, MaxRetries: 3}
}
