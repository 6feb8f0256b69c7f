package events

// DaemonStatusPayload is the data for a daemon.status message: a coarse
// snapshot of queue depth and worker activity, pushed whenever the
// scheduler or worker pool notices a state change worth telling clients
// about.
type DaemonStatusPayload struct {
	QueuePending  int    `json:"queuePending"`
	QueueLeased   int    `json:"queueLeased"`
	ActiveWorkers int    `json:"activeWorkers"`
	TotalWorkers  int    `json:"totalWorkers"`
	Timestamp     string `json:"timestamp"`
}

// NodeCreatedPayload is the data for a node.created message, published
// after the Node Store commits a new or updated node version.
type NodeCreatedPayload struct {
	NodeID    string `json:"nodeId"`
	Version   int    `json:"version"`
	Project   string `json:"project,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Timestamp string `json:"timestamp"`
}

// AnalysisCompletedPayload is the data for an analysis.completed message,
// published when a job's analyzer invocation succeeds.
type AnalysisCompletedPayload struct {
	JobID     string `json:"jobId"`
	NodeID    string `json:"nodeId"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
}

// AnalysisFailedPayload is the data for an analysis.failed message,
// published when a job's analyzer invocation fails (regardless of whether
// it will be retried).
type AnalysisFailedPayload struct {
	JobID         string `json:"jobId"`
	Kind          string `json:"kind"`
	ErrorCategory string `json:"errorCategory"`
	LastError     string `json:"lastError"`
	WillRetry     bool   `json:"willRetry"`
	Timestamp     string `json:"timestamp"`
}

// QueueChangedPayload is the data for a queue.changed message, published
// on enqueue, lease, completion, and sweep so the daemon status page can
// stay live without polling.
type QueueChangedPayload struct {
	Pending   int    `json:"pending"`
	Leased    int    `json:"leased"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Timestamp string `json:"timestamp"`
}
