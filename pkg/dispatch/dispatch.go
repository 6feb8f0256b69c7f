// Package dispatch implements the Dispatcher: the queue.Executor that turns
// a leased store.Job into calls against the Analyzer Invoker, the Node
// Store, the Connection Discoverer, and the embedding provider, and
// publishes the resulting events (spec.md §4.4, §4.5, §4.7, §4.8). It is
// pure orchestration over packages that already know how to do their own
// job, the way the teacher's controller package sequences LLM calls, tool
// execution, and timeline events without owning any of them itself.
package dispatch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/brain-daemon/brain/pkg/analyzer"
	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/connections"
	"github.com/brain-daemon/brain/pkg/embedding"
	"github.com/brain-daemon/brain/pkg/events"
	"github.com/brain-daemon/brain/pkg/masking"
	"github.com/brain-daemon/brain/pkg/queue"
	"github.com/brain-daemon/brain/pkg/segment"
	"github.com/brain-daemon/brain/pkg/session"
	"github.com/brain-daemon/brain/pkg/store"
)

// Dispatcher implements queue.Executor.
type Dispatcher struct {
	st           *store.Store
	discoverer   *connections.Discoverer
	embedder     embedding.Provider
	masker       *masking.Service
	bus          *events.Bus
	analyzerCfg  config.AnalyzerConfig
	queueCfg     config.QueueConfig
	skillNames   []string
	log          *slog.Logger
}

// New builds a Dispatcher. skills is the set probed available at daemon
// startup (analyzer.Availability.Names()); bus may be nil in tests that
// don't care about event fan-out.
func New(
	st *store.Store,
	discoverer *connections.Discoverer,
	embedder embedding.Provider,
	masker *masking.Service,
	bus *events.Bus,
	analyzerCfg config.AnalyzerConfig,
	queueCfg config.QueueConfig,
	skills []string,
	log *slog.Logger,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		st:          st,
		discoverer:  discoverer,
		embedder:    embedder,
		masker:      masker,
		bus:         bus,
		analyzerCfg: analyzerCfg,
		queueCfg:    queueCfg,
		skillNames:  skills,
		log:         log,
	}
}

// Execute dispatches on job.Kind, per the mapping in the queue.Executor doc
// comment.
func (d *Dispatcher) Execute(ctx context.Context, job store.Job) queue.Outcome {
	switch job.Kind {
	case store.JobInitial, store.JobReanalysis:
		return d.executeAnalysis(ctx, job)
	case store.JobConnectionDiscovery:
		return d.executeConnectionDiscovery(ctx, job)
	case store.JobEmbeddingBackfill:
		return d.executeEmbeddingBackfill(ctx, job)
	case store.JobClustering:
		return d.executeClustering(ctx, job)
	case store.JobPatternAggregation:
		return d.executePatternAggregation(ctx, job)
	default:
		return queue.Outcome{
			State:         store.JobFailed,
			ErrorCategory: store.ErrorPermanent,
			LastError:     "unrecognized job kind: " + string(job.Kind),
		}
	}
}

// publish is a nil-safe wrapper so tests can build a Dispatcher without a
// bus and every call site doesn't need its own nil check.
func (d *Dispatcher) publish(channel events.Channel, msgType string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(channel, msgType, data)
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// backoff sleeps an exponential delay with full jitter before a retryable
// job's Outcome is returned, so store.Complete's immediate-requeue-to-
// pending doesn't turn a transient failure into a tight retry loop (spec.md
// §4.5: "retry delays use exponential backoff with jitter, capped at a
// ceiling"). The job-level timeout (queue.Config.JobTimeout) bounds how long
// this can run before ctx is cancelled out from under it.
func (d *Dispatcher) backoff(ctx context.Context, retryCount int) {
	base := time.Duration(d.queueCfg.RetryDelaySeconds) * time.Second
	if base <= 0 {
		base = 30 * time.Second
	}
	ceiling := time.Duration(d.queueCfg.RetryDelayMaxSeconds) * time.Second
	if ceiling <= 0 {
		ceiling = 10 * time.Minute
	}

	delay := base << retryCount
	if delay <= 0 || delay > ceiling {
		delay = ceiling
	}
	jittered := time.Duration(rand.Int64N(int64(delay) + 1))

	select {
	case <-ctx.Done():
	case <-time.After(jittered):
	}
}

// reconstructSegment re-parses job.SessionFile and locates the segment
// matching job.SegmentBoundary (spec.md §4.2: "Re-parsing is acceptable" —
// store.Job only persists the session file and boundary, not the entries).
func reconstructSegment(sessionFile, boundary string) (segment.Segment, error) {
	parsed, err := session.Parse(sessionFile)
	if err != nil {
		return segment.Segment{}, err
	}
	for _, seg := range segment.Split(sessionFile, parsed.Entries) {
		if seg.NodeBoundary() == boundary {
			return seg, nil
		}
	}
	return segment.Segment{}, errSegmentNotFound{sessionFile: sessionFile, boundary: boundary}
}

type errSegmentNotFound struct {
	sessionFile, boundary string
}

func (e errSegmentNotFound) Error() string {
	return "segment not found for " + e.sessionFile + " boundary " + e.boundary
}
