package config

// Defaults holds the built-in configuration baseline. User-supplied YAML
// is merged over this with dario.cat/mergo (WithOverride), so a user file
// only needs to specify the keys it wants to change.
var Defaults = Config{
	Store: StoreConfig{
		DataRoot:     "~/.brain",
		SessionsRoot: "~/.claude/projects",
	},
	Watcher: WatcherConfig{
		DebounceMS: 250,
	},
	Segment: SegmentConfig{
		IdleTimeoutMinutes:        15,
		StabilityThresholdLocalMS: 5000,
		StabilityThresholdExtMS:   30000,
		MinWorthAnalyzingTurns:    2,
	},
	Queue: QueueConfig{
		MaxRetries:             3,
		RetryDelaySeconds:       30,
		RetryDelayMaxSeconds:    600,
		AnalysisTimeoutMinutes:  5,
		MaxConcurrentAnalysis:   1,
		MaxQueueSize:            500,
		ParallelWorkers:         1,
		SweepIntervalSeconds:    100, // lease / 3, lease default 300s
		LeaseSeconds:            300,
		DrainGraceSeconds:       30,
	},
	Analyzer: AnalyzerConfig{
		Binary:          "claude",
		Provider:        "anthropic",
		Model:           "",
		PromptFile:      "prompts/analyzer.md",
		QueryPromptFile: "prompts/query.md",
		QueryModel:      "",
		SkillsRoot:      "",
		RequiredSkills:  nil,
		OptionalSkills:  nil,
	},
	Connections: ConnectionsConfig{
		SemanticSearchThreshold: 0.6,
		TemporalWindowDays:      7,
		FileOverlapMinJaccard:   0.3,
		TopK:                    10,
		CooldownHours:           24,
		ClusterWeightThreshold:  0.5,
	},
	Embedding: EmbeddingConfig{
		Provider:   "",
		Model:      "",
		APIKey:     "",
		BaseURL:    "",
		Dimensions: 0,
	},
	Schedule: ScheduleConfig{
		Reanalysis:          "0 */6 * * *",
		ConnectionDiscovery: "30 */6 * * *",
		PatternAggregation:  "0 3 * * *",
		Clustering:          "0 4 * * 0",
		EmbeddingBackfill:   "15 */6 * * *",
	},
	API: APIConfig{
		Port:        8765,
		Host:        "127.0.0.1",
		CORSOrigins: []string{"http://localhost:3000"},
	},
	Retention: RetentionConfig{
		ArchiveAfterDays:       90,
		NodeVersionRetainCount: 5,
		EventTTLSeconds:        60,
	},
	Masking: MaskingConfig{
		Enabled:        true,
		CustomPatterns: nil,
	},
}
