package config

import "time"

// Config is the fully resolved, validated daemon configuration. It is
// read-mostly at runtime: updates acquire an exclusive lock and broadcast
// a daemon.config_changed event (see pkg/events).
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Segment     SegmentConfig     `yaml:"segment"`
	Queue       QueueConfig       `yaml:"queue"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Connections ConnectionsConfig `yaml:"connection_discovery"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	API         APIConfig         `yaml:"api"`
	Retention   RetentionConfig   `yaml:"retention"`
	Masking     MaskingConfig     `yaml:"masking"`
}

// StoreConfig locates the daemon's on-disk state.
type StoreConfig struct {
	DataRoot     string `yaml:"data_root"`
	SessionsRoot string `yaml:"sessions_root"`
}

// WatcherConfig tunes the Session Watcher's debounce behavior.
type WatcherConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// SegmentConfig tunes the Segment Extractor's readiness heuristics.
type SegmentConfig struct {
	IdleTimeoutMinutes        int `yaml:"idle_timeout_minutes"`
	StabilityThresholdLocalMS int `yaml:"stability_threshold_local_ms"`
	StabilityThresholdExtMS   int `yaml:"stability_threshold_external_ms"`
	MinWorthAnalyzingTurns    int `yaml:"min_worth_analyzing_turns"`
}

// QueueConfig tunes the Job Queue and Worker Pool.
type QueueConfig struct {
	MaxRetries            int `yaml:"max_retries"`
	RetryDelaySeconds      int `yaml:"retry_delay_seconds"`
	RetryDelayMaxSeconds   int `yaml:"retry_delay_max_seconds"`
	AnalysisTimeoutMinutes int `yaml:"analysis_timeout_minutes"`
	MaxConcurrentAnalysis  int `yaml:"max_concurrent_analysis"`
	MaxQueueSize           int `yaml:"max_queue_size"`
	ParallelWorkers        int `yaml:"parallel_workers"`
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds"`
	LeaseSeconds           int `yaml:"lease_seconds"`
	DrainGraceSeconds      int `yaml:"drain_grace_seconds"`
}

// AnalyzerConfig locates and parameterizes the analyzer subprocess.
type AnalyzerConfig struct {
	Binary           string   `yaml:"binary"`
	Provider         string   `yaml:"provider"`
	Model            string   `yaml:"model"`
	PromptFile       string   `yaml:"prompt_file"`
	QueryPromptFile  string   `yaml:"query_prompt_file"`
	QueryModel       string   `yaml:"query_model"`
	SkillsRoot       string   `yaml:"skills_root"`
	RequiredSkills   []string `yaml:"required_skills"`
	OptionalSkills   []string `yaml:"optional_skills"`
}

// ConnectionsConfig tunes the Connection Discoverer.
type ConnectionsConfig struct {
	SemanticSearchThreshold float64 `yaml:"semantic_search_threshold"`
	TemporalWindowDays      int     `yaml:"temporal_window_days"`
	FileOverlapMinJaccard   float64 `yaml:"file_overlap_min_jaccard"`
	TopK                    int     `yaml:"top_k"`
	CooldownHours           int     `yaml:"cooldown_hours"`
	ClusterWeightThreshold  float64 `yaml:"cluster_weight_threshold"`
}

// EmbeddingConfig configures the embedding provider used for semantic
// search and connection discovery.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`
}

// ScheduleConfig holds the cron strings driving the Scheduler's periodic
// producers. Parsed once at load and re-parsed on config change; invalid
// strings are rejected at load, not at fire time.
type ScheduleConfig struct {
	Reanalysis          string `yaml:"reanalysis"`
	ConnectionDiscovery string `yaml:"connection_discovery"`
	PatternAggregation  string `yaml:"pattern_aggregation"`
	Clustering          string `yaml:"clustering"`
	EmbeddingBackfill   string `yaml:"embedding_backfill"`
}

// APIConfig configures the HTTP Surface.
type APIConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RetentionConfig governs node-version archival.
type RetentionConfig struct {
	ArchiveAfterDays        int `yaml:"archive_after_days"`
	NodeVersionRetainCount  int `yaml:"node_version_retain_count"`
	EventTTLSeconds         int `yaml:"event_ttl_seconds"`
}

// MaskingConfig controls scrubbing of session excerpts before they are
// sent to the analyzer or embedding provider.
type MaskingConfig struct {
	Enabled        bool     `yaml:"enabled"`
	CustomPatterns []string `yaml:"custom_patterns"`
}

// idleTimeout returns the configured idle timeout as a duration.
func (c *Config) idleTimeout() time.Duration {
	return time.Duration(c.Segment.IdleTimeoutMinutes) * time.Minute
}

// leaseDuration returns the configured job lease duration.
func (c *Config) leaseDuration() time.Duration {
	return time.Duration(c.Queue.LeaseSeconds) * time.Second
}
