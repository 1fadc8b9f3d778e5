// Package task defines the ResearchTask domain entity and its state machine.
package task

import (
	"fmt"
	"time"
)

// State represents the current state of a research task.
type State string

const (
	StatePending   State = "pending"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Priority is a coarse priority band; higher values dequeue first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 5
	PriorityHigh     Priority = 9
	PriorityCritical Priority = 10
)

// allowedTransitions enumerates every valid State->State edge. Any pair not
// present here is rejected by Transition.
var allowedTransitions = map[State]map[State]bool{
	StatePending:   {StateExecuting: true, StateCancelled: true},
	StateExecuting: {StateCompleted: true, StateFailed: true, StateCancelled: true},
	StateFailed:    {StatePending: true}, // only permitted when retry_count < max_retries; caller enforces
}

// CanTransition reports whether from->to is a structurally valid edge in the
// research task state machine. It does not know about retry_count; callers
// transitioning Failed->Pending must additionally check RetryCount < MaxRetries.
func CanTransition(from, to State) bool {
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Gap is referenced by task_id from StateHistoryEntry payloads but owned by
// the gap detector; ResearchTask stores only the minimal fields it needs to
// schedule and describe itself, as own copies (see §3 cyclic-data note:
// tasks store gap_id, not a back-reference).
type ResearchTask struct {
	TaskID          string         `json:"task_id"`
	GapID           string         `json:"gap_id"`
	Priority        Priority       `json:"priority"`
	State           State          `json:"state"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	Timeout         time.Duration  `json:"timeout"`
	ResearchQuery   string         `json:"research_query"`
	EstimatedDurMS  int64          `json:"estimated_duration_ms,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// CanRetry reports whether a Failed task is eligible to transition back to
// Pending under its own retry budget.
func (t *ResearchTask) CanRetry() bool {
	return t.State == StateFailed && t.RetryCount < t.MaxRetries
}

// Less orders tasks for the priority queue: higher priority first, ties
// broken by older CreatedAt first (spec §8 scenario S4).
func Less(a, b *ResearchTask) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// StateHistoryEntry is a single append-only state-machine transition record.
type StateHistoryEntry struct {
	TaskID    string         `json:"task_id"`
	FromState State          `json:"from_state"`
	ToState   State          `json:"to_state"`
	Actor     string         `json:"actor"`
	At        time.Time      `json:"at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LifecycleSummary is a derived view over a task's full history.
type LifecycleSummary struct {
	TaskID       string      `json:"task_id"`
	CurrentState State       `json:"current_state"`
	Transitions  int         `json:"transitions"`
	FirstAt      time.Time   `json:"first_at"`
	LastAt       time.Time   `json:"last_at"`
	History      []StateHistoryEntry `json:"history"`
}

// InvalidTransitionError reports a rejected state transition attempt.
type InvalidTransitionError struct {
	TaskID string
	From   State
	To     State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// QueueSnapshot is the on-disk, atomically-persisted shape of the Task Queue.
type QueueSnapshot struct {
	Pending   []*ResearchTask `json:"pending"`
	Executing []*ResearchTask `json:"executing"`
	Completed []*ResearchTask `json:"completed"` // capped to recent N
	Failed    []*ResearchTask `json:"failed"`
	Metrics   QueueMetrics    `json:"metrics"`
	Version   int             `json:"version"`
}

// QueueMetrics are aggregate counters carried in a QueueSnapshot.
type QueueMetrics struct {
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalDequeued  int64 `json:"total_dequeued"`
	TotalCompleted int64 `json:"total_completed"`
	TotalFailed    int64 `json:"total_failed"`
	TotalCancelled int64 `json:"total_cancelled"`
}
