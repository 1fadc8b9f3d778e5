// Package queue implements the Task Queue (C10): a persistent priority heap
// of ResearchTasks with bounded size, state-bucketed shadow maps, and
// atomic snapshot persistence.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/task"
)

const (
	schemaVersion  = 1
	maxCompletedKept = 1000
)

// taskHeap orders ResearchTasks by task.Less (higher priority first, older
// created_at as tiebreak).
type taskHeap []*task.ResearchTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return task.Less(h[i], h[j]) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*task.ResearchTask)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the single authoritative priority heap plus per-state maps.
type Queue struct {
	mu sync.Mutex

	pending   taskHeap
	executing map[string]*task.ResearchTask
	completed []*task.ResearchTask
	failed    map[string]*task.ResearchTask

	metrics task.QueueMetrics

	maxSize             int
	persistPath         string
	persistenceInterval time.Duration
	lastPersist         time.Time
	now                 func() time.Time
}

// New creates an empty Queue. persistPath may be empty to disable persistence.
func New(maxSize int, persistPath string, persistenceInterval time.Duration) *Queue {
	return &Queue{
		executing:           make(map[string]*task.ResearchTask),
		failed:              make(map[string]*task.ResearchTask),
		maxSize:             maxSize,
		persistPath:         persistPath,
		persistenceInterval: persistenceInterval,
		now:                 time.Now,
	}
}

// Size is the total number of tasks across pending+executing.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.executing)
}

// Enqueue adds t to the pending heap, failing with QueueFullError at capacity.
func (q *Queue) Enqueue(ctx context.Context, t *task.ResearchTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxSize > 0 && len(q.pending)+len(q.executing) >= q.maxSize {
		return &ferrors.QueueFullError{Limit: q.maxSize}
	}
	heap.Push(&q.pending, t)
	q.metrics.TotalEnqueued++
	q.maybePersistLocked(ctx)
	return nil
}

// Dequeue pops the highest-priority pending task, or returns (nil, false).
func (q *Queue) Dequeue(ctx context.Context) (*task.ResearchTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	t := heap.Pop(&q.pending).(*task.ResearchTask)
	q.executing[t.TaskID] = t
	q.metrics.TotalDequeued++
	q.maybePersistLocked(ctx)
	return t, true
}

// Peek returns the highest-priority pending task without removing it.
func (q *Queue) Peek() (*task.ResearchTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	return q.pending[0], true
}

// UpdateState transitions t's state, validating against the task state
// machine and moving it between the queue's shadow maps.
func (q *Queue) UpdateState(ctx context.Context, taskID string, newState task.State) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.executing[taskID]
	if !ok {
		if f, ok := q.failed[taskID]; ok {
			t = f
		}
	}
	if t == nil {
		for _, p := range q.pending {
			if p.TaskID == taskID {
				t = p
				break
			}
		}
	}
	if t == nil {
		return fmt.Errorf("queue: unknown task %q: %w", taskID, ferrors.ErrNotFound)
	}
	if !task.CanTransition(t.State, newState) {
		return &ferrors.StateTransitionError{TaskID: taskID, From: string(t.State), To: string(newState)}
	}

	delete(q.executing, taskID)
	delete(q.failed, taskID)
	t.State = newState
	switch newState {
	case task.StateCompleted:
		now := q.now()
		t.CompletedAt = &now
		q.completed = append(q.completed, t)
		if len(q.completed) > maxCompletedKept {
			q.completed = q.completed[len(q.completed)-maxCompletedKept:]
		}
		q.metrics.TotalCompleted++
	case task.StateFailed:
		q.failed[taskID] = t
		q.metrics.TotalFailed++
	case task.StateCancelled:
		q.metrics.TotalCancelled++
	case task.StatePending:
		heap.Push(&q.pending, t)
	case task.StateExecuting:
		q.executing[taskID] = t
	}

	q.maybePersistLocked(ctx)
	return nil
}

// CancelAll marks every pending and executing task Cancelled.
func (q *Queue) CancelAll(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.pending {
		t.State = task.StateCancelled
		n++
	}
	q.pending = nil
	for id, t := range q.executing {
		t.State = task.StateCancelled
		delete(q.executing, id)
		n++
	}
	q.metrics.TotalCancelled += int64(n)
	q.maybePersistLocked(ctx)
	return n
}

func (q *Queue) maybePersistLocked(ctx context.Context) {
	if q.persistPath == "" {
		return
	}
	if q.persistenceInterval > 0 && q.now().Sub(q.lastPersist) < q.persistenceInterval {
		return
	}
	_ = q.persistLocked()
}

// Persist writes a snapshot unconditionally (e.g. on graceful shutdown).
func (q *Queue) Persist(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persistLocked()
}

func (q *Queue) persistLocked() error {
	if q.persistPath == "" {
		return nil
	}
	snap := q.snapshotLocked()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(q.persistPath)
	tmp, err := os.CreateTemp(dir, ".queue-snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("queue: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("queue: write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("queue: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, q.persistPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("queue: rename snapshot into place: %w", err)
	}
	q.lastPersist = q.now()
	return nil
}

func (q *Queue) snapshotLocked() task.QueueSnapshot {
	snap := task.QueueSnapshot{Metrics: q.metrics, Version: schemaVersion}
	snap.Pending = append(snap.Pending, q.pending...)
	for _, t := range q.executing {
		snap.Executing = append(snap.Executing, t)
	}
	snap.Completed = append(snap.Completed, q.completed...)
	for _, t := range q.failed {
		snap.Failed = append(snap.Failed, t)
	}
	return snap
}

// Load restores queue state from the persisted snapshot at persistPath. On
// recovery, tasks found Executing are reclassified Pending (retry) unless
// retry_count >= max_retries, in which case they become Failed; the number
// of reclassified tasks is returned.
func (q *Queue) Load(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.persistPath == "" {
		return 0, nil
	}
	data, err := os.ReadFile(q.persistPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("queue: read snapshot: %w", err)
	}

	var snap task.QueueSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("queue: unmarshal snapshot: %w", err)
	}

	q.pending = nil
	q.executing = make(map[string]*task.ResearchTask)
	q.failed = make(map[string]*task.ResearchTask)
	q.completed = nil
	q.metrics = snap.Metrics

	recovered := 0
	for _, t := range snap.Pending {
		heap.Push(&q.pending, t)
	}
	for _, t := range snap.Executing {
		// Executing tasks found on recovery were mid-flight when the process
		// stopped; they never reached a terminal state, so retry eligibility
		// is judged the same way a failed attempt would be (§4.10 Recovery).
		if t.RetryCount >= t.MaxRetries {
			t.State = task.StateFailed
			q.failed[t.TaskID] = t
		} else {
			t.State = task.StatePending
			heap.Push(&q.pending, t)
		}
		recovered++
	}
	q.completed = append(q.completed, snap.Completed...)
	for _, t := range snap.Failed {
		q.failed[t.TaskID] = t
	}
	return recovered, nil
}
