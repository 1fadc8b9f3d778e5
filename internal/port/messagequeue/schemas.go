package messagequeue

import "time"

// TaskEnqueuedPayload is the schema for task.enqueued messages.
type TaskEnqueuedPayload struct {
	TaskID       string    `json:"task_id"`
	GapID        string    `json:"gap_id"`
	ResearchType string    `json:"research_type"`
	Priority     int       `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
}

// TaskStateChangedPayload is the schema for task.state_changed messages,
// mirroring a StateHistoryEntry appended by the State Manager.
type TaskStateChangedPayload struct {
	TaskID    string         `json:"task_id"`
	FromState string         `json:"from_state"`
	ToState   string         `json:"to_state"`
	Actor     string         `json:"actor"`
	At        time.Time      `json:"at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskCompletedPayload is the schema for task.completed messages.
type TaskCompletedPayload struct {
	TaskID       string  `json:"task_id"`
	GapID        string  `json:"gap_id"`
	ResearchType string  `json:"research_type"`
	ProviderName string  `json:"provider_name"`
	DurationMS   int64   `json:"duration_ms"`
	CostUSD      float64 `json:"cost_usd"`
}

// TaskFailedPayload is the schema for task.failed messages, published once
// a task has exhausted its configured retry budget.
type TaskFailedPayload struct {
	TaskID     string `json:"task_id"`
	GapID      string `json:"gap_id"`
	RetryCount int    `json:"retry_count"`
	Reason     string `json:"reason"`
}

// GapDetectedPayload is the schema for task.gap_detected messages.
type GapDetectedPayload struct {
	GapID      string  `json:"gap_id"`
	Kind       string  `json:"kind"`
	FilePath   string  `json:"file_path"`
	Priority   int     `json:"priority"`
	Confidence float64 `json:"confidence"`
}

// ProviderHealthPayload is the schema for task.provider_health messages.
type ProviderHealthPayload struct {
	ProviderName string    `json:"provider_name"`
	HealthScore  float64   `json:"health_score"`
	Available    bool      `json:"available"`
	At           time.Time `json:"at"`
}
