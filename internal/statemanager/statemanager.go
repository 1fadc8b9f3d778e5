// Package statemanager implements the State Manager (C12): the sole
// authority over task state transitions and their append-only history.
package statemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/task"
	"github.com/Strob0t/fortitude/internal/port/eventstore"
)

// Manager validates and records task state transitions.
type Manager struct {
	store eventstore.Store
	now   func() time.Time
}

// New creates a Manager over store.
func New(store eventstore.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Transition validates from->to against the task state machine, then
// appends the resulting StateHistoryEntry. It does not check the task's
// retry budget, and every accepted call appends a new entry, including a
// repeat of an earlier transition.
func (m *Manager) Transition(ctx context.Context, taskID string, from, to task.State, actor string, metadata map[string]any) error {
	if !task.CanTransition(from, to) {
		return &ferrors.StateTransitionError{TaskID: taskID, From: string(from), To: string(to)}
	}

	entry := &task.StateHistoryEntry{
		TaskID:    taskID,
		FromState: from,
		ToState:   to,
		Actor:     actor,
		At:        m.now(),
		Metadata:  metadata,
	}
	if err := m.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("statemanager: append transition: %w", err)
	}
	return nil
}

// History returns the full, ordered transition history for taskID.
func (m *Manager) History(ctx context.Context, taskID string) ([]task.StateHistoryEntry, error) {
	return m.store.History(ctx, taskID)
}

// Lifecycle returns the derived lifecycle summary for taskID.
func (m *Manager) Lifecycle(ctx context.Context, taskID string) (*task.LifecycleSummary, error) {
	return m.store.Lifecycle(ctx, taskID)
}

// Recover rebuilds the store's in-memory index from the durable log,
// returning the number of distinct tasks recovered.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	return m.store.Recover(ctx)
}
