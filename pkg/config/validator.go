package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// validate checks a fully-merged Config for internal consistency. Cron
// strings are parsed here so that an invalid schedule fails the daemon at
// startup rather than silently never firing.
func validate(c Config) error {
	if c.Store.DataRoot == "" {
		return NewValidationError("store", "data_root", ErrMissingRequiredField)
	}
	if c.Store.SessionsRoot == "" {
		return NewValidationError("store", "sessions_root", ErrMissingRequiredField)
	}

	if c.Watcher.DebounceMS < 0 {
		return NewValidationError("watcher", "debounce_ms", ErrInvalidValue)
	}

	if c.Segment.IdleTimeoutMinutes <= 0 {
		return NewValidationError("segment", "idle_timeout_minutes", ErrInvalidValue)
	}
	if c.Segment.StabilityThresholdLocalMS <= 0 {
		return NewValidationError("segment", "stability_threshold_local_ms", ErrInvalidValue)
	}
	if c.Segment.StabilityThresholdExtMS <= 0 {
		return NewValidationError("segment", "stability_threshold_external_ms", ErrInvalidValue)
	}

	if c.Queue.MaxRetries < 0 {
		return NewValidationError("queue", "max_retries", ErrInvalidValue)
	}
	if c.Queue.RetryDelaySeconds <= 0 {
		return NewValidationError("queue", "retry_delay_seconds", ErrInvalidValue)
	}
	if c.Queue.MaxQueueSize <= 0 {
		return NewValidationError("queue", "max_queue_size", ErrInvalidValue)
	}
	if c.Queue.ParallelWorkers <= 0 {
		return NewValidationError("queue", "parallel_workers", ErrInvalidValue)
	}
	if c.Queue.MaxConcurrentAnalysis <= 0 {
		return NewValidationError("queue", "max_concurrent_analysis", ErrInvalidValue)
	}
	if c.Queue.LeaseSeconds <= 0 {
		return NewValidationError("queue", "lease_seconds", ErrInvalidValue)
	}
	if c.Queue.DrainGraceSeconds <= 0 {
		return NewValidationError("queue", "drain_grace_seconds", ErrInvalidValue)
	}

	if c.Analyzer.Binary == "" {
		return NewValidationError("analyzer", "binary", ErrMissingRequiredField)
	}
	if c.Analyzer.PromptFile == "" {
		return NewValidationError("analyzer", "prompt_file", ErrMissingRequiredField)
	}

	if c.Connections.SemanticSearchThreshold < 0 || c.Connections.SemanticSearchThreshold > 1 {
		return NewValidationError("connection_discovery", "semantic_search_threshold", ErrInvalidValue)
	}
	if c.Connections.FileOverlapMinJaccard < 0 || c.Connections.FileOverlapMinJaccard > 1 {
		return NewValidationError("connection_discovery", "file_overlap_min_jaccard", ErrInvalidValue)
	}
	if c.Connections.TemporalWindowDays <= 0 {
		return NewValidationError("connection_discovery", "temporal_window_days", ErrInvalidValue)
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return NewValidationError("api", "port", ErrInvalidValue)
	}

	if c.Retention.ArchiveAfterDays < 0 {
		return NewValidationError("retention", "archive_after_days", ErrInvalidValue)
	}
	if c.Retention.NodeVersionRetainCount <= 0 {
		return NewValidationError("retention", "node_version_retain_count", ErrInvalidValue)
	}

	if err := validateSchedule(c.Schedule); err != nil {
		return err
	}

	return nil
}

// validateSchedule parses every cron string up front so the Scheduler
// never discovers a malformed schedule at fire time.
func validateSchedule(s ScheduleConfig) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	fields := map[string]string{
		"reanalysis":           s.Reanalysis,
		"connection_discovery": s.ConnectionDiscovery,
		"pattern_aggregation":  s.PatternAggregation,
		"clustering":           s.Clustering,
		"embedding_backfill":   s.EmbeddingBackfill,
	}
	for field, expr := range fields {
		if expr == "" {
			return NewValidationError("schedule", field, ErrMissingRequiredField)
		}
		if _, err := parser.Parse(expr); err != nil {
			return NewValidationError("schedule", field, fmt.Errorf("%w: %v", ErrInvalidCron, err))
		}
	}
	return nil
}
