// Package eventstore defines the port interface for the append-only
// research-task state history, the backing store for the State Manager (C12).
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/task"
)

// ErrNoHistory is returned by Lifecycle when a task has no recorded
// transitions.
var ErrNoHistory = errors.New("eventstore: no history for task")

// HistoryFilter controls which entries LoadTrajectory returns.
type HistoryFilter struct {
	States []task.State `json:"states,omitempty"`
	After  *time.Time   `json:"after,omitempty"`
	Before *time.Time   `json:"before,omitempty"`
}

// HistoryPage is a cursor-paginated page of state history entries.
type HistoryPage struct {
	Entries []task.StateHistoryEntry `json:"entries"`
	Cursor  string                   `json:"cursor"`
	HasMore bool                     `json:"has_more"`
	Total   int                      `json:"total"`
}

// Store is the port interface for appending and loading task state history.
// All writes are append-only; the history returned here is the source of
// truth, per the ownership rule that the Task Queue's shadow copies must
// never contradict it after recovery.
type Store interface {
	// Append persists a new state transition entry.
	Append(ctx context.Context, entry *task.StateHistoryEntry) error

	// History returns every entry for the given task, ordered oldest-first.
	History(ctx context.Context, taskID string) ([]task.StateHistoryEntry, error)

	// Lifecycle derives a summary view over a task's full history.
	Lifecycle(ctx context.Context, taskID string) (*task.LifecycleSummary, error)

	// LoadTrajectory returns a cursor-paginated, filtered page of entries for a task.
	LoadTrajectory(ctx context.Context, taskID string, filter HistoryFilter, cursor string, limit int) (*HistoryPage, error)

	// Recover replays persisted history to reconcile in-memory state after a
	// restart, returning the number of tasks whose state was recovered.
	Recover(ctx context.Context) (int, error)
}
