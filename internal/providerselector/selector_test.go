package providerselector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/provider"
	"github.com/Strob0t/fortitude/internal/domain/query"
	"github.com/Strob0t/fortitude/internal/providerregistry"
)

type costProvider struct {
	cost provider.CostEstimate
}

func (c *costProvider) ResearchQuery(context.Context, string) (string, error) { return "", nil }
func (c *costProvider) Metadata() provider.Metadata                           { return provider.Metadata{Name: "stub"} }
func (c *costProvider) HealthCheck(context.Context) error                     { return nil }
func (c *costProvider) EstimateCost(context.Context, string) (provider.CostEstimate, error) {
	return c.cost, nil
}
func (c *costProvider) UsageStats() provider.UsageStats { return provider.UsageStats{} }

func newRegistryWith(names ...string) *providerregistry.Registry {
	r := providerregistry.New(time.Minute)
	for _, n := range names {
		r.Add(provider.Record{Name: n, Enabled: true}, &costProvider{})
	}
	return r
}

func TestSelectReturnsNoProvidersWhenNoneEligible(t *testing.T) {
	r := providerregistry.New(time.Minute)
	s := New(r)
	_, _, err := s.Select(context.Background(), StrategyBalanced, query.ResearchLearning, "q", nil)
	if !errors.Is(err, ferrors.ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestRoundRobinCyclesThroughCandidates(t *testing.T) {
	r := newRegistryWith("a", "b")
	s := New(r)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		name, _, err := s.Select(context.Background(), StrategyRoundRobin, "", "q", nil)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		seen[name]++
	}
	if seen["a"] != 2 || seen["b"] != 2 {
		t.Fatalf("expected even round-robin split, got %v", seen)
	}
}

func TestLowestLatencyPicksFastest(t *testing.T) {
	r := newRegistryWith("slow", "fast")
	r.Record("slow", true, 500*time.Millisecond, nil, nil)
	r.Record("fast", true, 10*time.Millisecond, nil, nil)

	s := New(r)
	name, _, err := s.Select(context.Background(), StrategyLowestLatency, "", "q", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "fast" {
		t.Fatalf("expected fast provider, got %s", name)
	}
}

func TestHighestSuccessRatePicksMostReliable(t *testing.T) {
	r := newRegistryWith("reliable", "unreliable")
	r.Record("reliable", true, 100*time.Millisecond, nil, nil)
	r.Record("reliable", true, 100*time.Millisecond, nil, nil)
	r.Record("unreliable", true, 50*time.Millisecond, nil, nil)
	r.Record("unreliable", false, 50*time.Millisecond, nil, nil)

	s := New(r)
	name, _, err := s.Select(context.Background(), StrategyHighestSuccessRate, "", "q", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "reliable" {
		t.Fatalf("expected reliable provider (100%% success), got %s", name)
	}
}

func TestCostOptimizedPicksCheapestAvailable(t *testing.T) {
	r := providerregistry.New(time.Minute)
	r.Add(provider.Record{Name: "pricey", Enabled: true}, &costProvider{cost: provider.CostEstimate{CostUSD: 1.0, Available: true}})
	r.Add(provider.Record{Name: "cheap", Enabled: true}, &costProvider{cost: provider.CostEstimate{CostUSD: 0.1, Available: true}})
	r.Add(provider.Record{Name: "unknown", Enabled: true}, &costProvider{cost: provider.CostEstimate{Available: false}})

	s := New(r)
	name, _, err := s.Select(context.Background(), StrategyCostOptimized, "", "q", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "cheap" {
		t.Fatalf("expected cheap provider, got %s", name)
	}
}

func TestSelectExcludesFailedProviderOnFailover(t *testing.T) {
	r := newRegistryWith("a", "b")
	s := New(r)

	exclude := map[string]bool{"a": true}
	name, _, err := s.Select(context.Background(), StrategyRoundRobin, "", "q", exclude)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "b" {
		t.Fatalf("expected b after excluding a, got %s", name)
	}
}

func TestResearchTypeOptimizedMapsToUnderlyingStrategy(t *testing.T) {
	r := newRegistryWith("slow", "fast")
	r.Record("slow", true, 500*time.Millisecond, nil, nil)
	r.Record("fast", true, 10*time.Millisecond, nil, nil)

	s := New(r)
	name, _, err := s.Select(context.Background(), StrategyResearchTypeOptimized, query.ResearchLearning, "q", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "fast" {
		t.Fatalf("expected Learning to route to LowestLatency and pick fast, got %s", name)
	}
}
