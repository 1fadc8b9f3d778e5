package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Strob0t/fortitude/internal/adapter/statestore"
	"github.com/Strob0t/fortitude/internal/cache"
	"github.com/Strob0t/fortitude/internal/domain/provider"
	"github.com/Strob0t/fortitude/internal/domain/task"
	"github.com/Strob0t/fortitude/internal/execution"
	"github.com/Strob0t/fortitude/internal/providerregistry"
	"github.com/Strob0t/fortitude/internal/providerselector"
	"github.com/Strob0t/fortitude/internal/queue"
	"github.com/Strob0t/fortitude/internal/ratelimit"
	"github.com/Strob0t/fortitude/internal/retry"
	"github.com/Strob0t/fortitude/internal/statemanager"
)

type memBackend struct{ data map[string][]byte }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}
func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}
func (m *memBackend) Delete(_ context.Context, key string) error { delete(m.data, key); return nil }

type stubProvider struct{}

func (s *stubProvider) ResearchQuery(context.Context, string) (string, error) { return "answer", nil }
func (s *stubProvider) Metadata() provider.Metadata                           { return provider.Metadata{Name: "stub"} }
func (s *stubProvider) HealthCheck(context.Context) error                     { return nil }
func (s *stubProvider) EstimateCost(context.Context, string) (provider.CostEstimate, error) {
	return provider.CostEstimate{}, nil
}
func (s *stubProvider) UsageStats() provider.UsageStats { return provider.UsageStats{} }

func newTestExecutor(t *testing.T) (*Executor, *queue.Queue) {
	t.Helper()
	store, err := statestore.Open(t.TempDir() + "/history.jsonl")
	if err != nil {
		t.Fatalf("open statestore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	states := statemanager.New(store)

	q := queue.New(0, "", 0)

	registry := providerregistry.New(time.Minute)
	registry.Add(provider.Record{Name: "p1", Enabled: true}, &stubProvider{})
	limiters := map[string]*ratelimit.Limiter{
		"p1": ratelimit.New(ratelimit.Config{MaxRequests: 10, MaxInputTokens: 10000, MaxOutputTokens: 10000, RequestsPerMin: 10, InputTokensPerMin: 10000, OutputTokensPerMin: 10000, MaxConcurrent: 2}),
	}
	selector := providerselector.New(registry)
	retryCtrl, err := retry.New(retry.Config{InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, MaxRetries: 1})
	if err != nil {
		t.Fatalf("retry.New: %v", err)
	}
	c := cache.New(&memBackend{data: map[string][]byte{}}, "", 0)
	coordinator := execution.New(c, registry, selector, retryCtrl, limiters, providerselector.StrategyRoundRobin, 1, time.Hour)

	pollBackoff := retry.Config{InitialDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(q, states, coordinator, 2, pollBackoff, log), q
}

func TestExecutorCompletesHealthyTask(t *testing.T) {
	ex, q := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tk := &task.ResearchTask{
		TaskID:        "t1",
		Priority:      task.PriorityMedium,
		State:         task.StatePending,
		CreatedAt:     time.Now(),
		Timeout:       time.Second,
		MaxRetries:    2,
		ResearchQuery: "how to implement async in rust",
	}
	if err := q.Enqueue(ctx, tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = ex.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task to complete")
		default:
		}
		if q.Size() == 0 {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
