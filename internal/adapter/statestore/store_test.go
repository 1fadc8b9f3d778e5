package statestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/task"
	"github.com/Strob0t/fortitude/internal/port/eventstore"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndHistoryOrdering(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Now()

	entries := []task.StateHistoryEntry{
		{TaskID: "t1", FromState: task.StatePending, ToState: task.StateExecuting, Actor: "executor", At: t0},
		{TaskID: "t1", FromState: task.StateExecuting, ToState: task.StateCompleted, Actor: "executor", At: t0.Add(time.Second)},
	}
	for i := range entries {
		if err := s.Append(ctx, &entries[i]); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hist, err := s.History(ctx, "t1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].ToState != task.StateExecuting || hist[1].ToState != task.StateCompleted {
		t.Fatalf("unexpected order: %+v", hist)
	}
}

func TestLifecycleSummary(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Now()

	_ = s.Append(ctx, &task.StateHistoryEntry{TaskID: "t1", FromState: task.StatePending, ToState: task.StateExecuting, At: t0})
	_ = s.Append(ctx, &task.StateHistoryEntry{TaskID: "t1", FromState: task.StateExecuting, ToState: task.StateFailed, At: t0.Add(time.Minute)})

	summary, err := s.Lifecycle(ctx, "t1")
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if summary.CurrentState != task.StateFailed {
		t.Fatalf("expected current state failed, got %s", summary.CurrentState)
	}
	if summary.Transitions != 2 {
		t.Fatalf("expected 2 transitions, got %d", summary.Transitions)
	}
}

func TestLifecycleUnknownTaskReturnsErrNoHistory(t *testing.T) {
	s := openTemp(t)
	_, err := s.Lifecycle(context.Background(), "missing")
	if !errors.Is(err, eventstore.ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestRecoverRebuildsIndexAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	_ = s1.Append(ctx, &task.StateHistoryEntry{TaskID: "t1", FromState: task.StatePending, ToState: task.StateExecuting, At: time.Now()})
	_ = s1.Append(ctx, &task.StateHistoryEntry{TaskID: "t2", FromState: task.StatePending, ToState: task.StateCancelled, At: time.Now()})
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })

	count, err := s2.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recovered tasks, got %d", count)
	}

	hist, err := s2.History(ctx, "t1")
	if err != nil || len(hist) != 1 {
		t.Fatalf("expected 1 entry for t1 after recovery, got %d (err=%v)", len(hist), err)
	}
}

func TestLoadTrajectoryPaginatesAndFilters(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	t0 := time.Now()

	states := []task.State{task.StateExecuting, task.StateFailed, task.StatePending, task.StateExecuting}
	for i, st := range states {
		_ = s.Append(ctx, &task.StateHistoryEntry{
			TaskID:  "t1",
			ToState: st,
			At:      t0.Add(time.Duration(i) * time.Second),
		})
	}

	page, err := s.LoadTrajectory(ctx, "t1", eventstore.HistoryFilter{States: []task.State{task.StateExecuting}}, "", 0)
	if err != nil {
		t.Fatalf("load trajectory: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 filtered entries, got %d", page.Total)
	}

	page1, err := s.LoadTrajectory(ctx, "t1", eventstore.HistoryFilter{}, "", 2)
	if err != nil {
		t.Fatalf("load trajectory page 1: %v", err)
	}
	if !page1.HasMore || len(page1.Entries) != 2 {
		t.Fatalf("expected page of 2 with more, got %+v", page1)
	}

	page2, err := s.LoadTrajectory(ctx, "t1", eventstore.HistoryFilter{}, page1.Cursor, 2)
	if err != nil {
		t.Fatalf("load trajectory page 2: %v", err)
	}
	if page2.HasMore || len(page2.Entries) != 2 {
		t.Fatalf("expected final page of 2, got %+v", page2)
	}
}
