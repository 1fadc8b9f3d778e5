// Package executor implements the Task Executor (C11): a bounded-concurrency
// worker pool that consumes the Task Queue and drives each task's lifecycle
// through the State Manager and Execution Coordinator.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/task"
	"github.com/Strob0t/fortitude/internal/execution"
	"github.com/Strob0t/fortitude/internal/queue"
	"github.com/Strob0t/fortitude/internal/retry"
	"github.com/Strob0t/fortitude/internal/statemanager"
)

// Executor runs up to maxConcurrent tasks at a time, pulled from q.
type Executor struct {
	q           *queue.Queue
	states      *statemanager.Manager
	coordinator *execution.Coordinator
	sem         chan struct{}
	pollBackoff retry.Config
	log         *slog.Logger

	// OnComplete and OnFail, if set, are called after a task reaches a
	// terminal state (outside the state-transition lock). They let callers
	// hook completion for notification/feedback without the executor
	// knowing about either concern.
	OnComplete func(t *task.ResearchTask, result execution.Result)
	OnFail     func(t *task.ResearchTask, reason string)
}

// New creates an Executor bounded to maxConcurrent simultaneous tasks.
// pollBackoff governs the exponential backoff used when the queue is empty.
func New(q *queue.Queue, states *statemanager.Manager, coordinator *execution.Coordinator, maxConcurrent int, pollBackoff retry.Config, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		q:           q,
		states:      states,
		coordinator: coordinator,
		sem:         make(chan struct{}, maxConcurrent),
		pollBackoff: pollBackoff,
		log:         log,
	}
}

// Run consumes tasks until ctx is cancelled, blocking the caller. It backs
// off with exponential delay when the queue is empty or the worker pool is
// saturated, to avoid busy-looping (§4.11's back-pressure clause).
func (e *Executor) Run(ctx context.Context) error {
	delay := e.pollBackoff.InitialDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t, ok := e.q.Dequeue(ctx)
		if !ok {
			delay = nextDelay(delay, e.pollBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		delay = e.pollBackoff.InitialDelay

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		go func(t *task.ResearchTask) {
			defer func() { <-e.sem }()
			e.runOne(ctx, t)
		}(t)
	}
}

// runOne drives a single dequeued task's lifecycle per §4.11.
func (e *Executor) runOne(ctx context.Context, t *task.ResearchTask) {
	now := time.Now()
	t.StartedAt = &now

	if err := e.states.Transition(ctx, t.TaskID, task.StatePending, task.StateExecuting, "executor", nil); err != nil {
		e.log.Error("reject pending->executing transition", "task_id", t.TaskID, "error", err)
		return
	}
	if err := e.q.UpdateState(ctx, t.TaskID, task.StateExecuting); err != nil {
		e.log.Error("queue update_state to executing failed", "task_id", t.TaskID, "error", err)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	result, err := e.coordinator.Execute(deadlineCtx, t.ResearchQuery)

	if err == nil {
		e.complete(ctx, t, result)
		return
	}

	if deadlineCtx.Err() == context.DeadlineExceeded {
		e.fail(ctx, t, "timeout exceeded")
		return
	}
	e.fail(ctx, t, err.Error())
}

func (e *Executor) complete(ctx context.Context, t *task.ResearchTask, result execution.Result) {
	if err := e.states.Transition(ctx, t.TaskID, task.StateExecuting, task.StateCompleted, "executor", map[string]any{
		"provider": result.ProviderName,
	}); err != nil {
		e.log.Error("reject executing->completed transition", "task_id", t.TaskID, "error", err)
		return
	}
	if err := e.q.UpdateState(ctx, t.TaskID, task.StateCompleted); err != nil {
		e.log.Error("queue update_state to completed failed", "task_id", t.TaskID, "error", err)
	}
	if e.OnComplete != nil {
		e.OnComplete(t, result)
	}
}

func (e *Executor) fail(ctx context.Context, t *task.ResearchTask, reason string) {
	if err := e.states.Transition(ctx, t.TaskID, task.StateExecuting, task.StateFailed, "executor", map[string]any{
		"reason": reason,
	}); err != nil {
		e.log.Error("reject executing->failed transition", "task_id", t.TaskID, "error", err)
		return
	}
	if err := e.q.UpdateState(ctx, t.TaskID, task.StateFailed); err != nil {
		e.log.Error("queue update_state to failed failed", "task_id", t.TaskID, "error", err)
		return
	}

	t.RetryCount++
	if t.CanRetry() {
		if err := e.q.UpdateState(ctx, t.TaskID, task.StatePending); err != nil {
			e.log.Error("re-enqueue after failure rejected", "task_id", t.TaskID, "error", err)
		}
		return
	}
	if e.OnFail != nil {
		e.OnFail(t, reason)
	}
}

func nextDelay(current time.Duration, cfg retry.Config) time.Duration {
	if current <= 0 {
		current = cfg.InitialDelay
	}
	next := time.Duration(float64(current) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}
