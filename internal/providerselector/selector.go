// Package providerselector implements the Provider Selector (C5): chooses a
// provider from the eligible set under a named strategy.
package providerselector

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/provider"
	"github.com/Strob0t/fortitude/internal/domain/query"
	"github.com/Strob0t/fortitude/internal/providerregistry"
)

// Strategy names a selection algorithm.
type Strategy string

const (
	StrategyRoundRobin            Strategy = "RoundRobin"
	StrategyLowestLatency         Strategy = "LowestLatency"
	StrategyHighestSuccessRate    Strategy = "HighestSuccessRate"
	StrategyCostOptimized         Strategy = "CostOptimized"
	StrategyResearchTypeOptimized Strategy = "ResearchTypeOptimized"
	StrategyBalanced              Strategy = "Balanced"
)

// researchTypeStrategy maps research_type -> underlying strategy for
// ResearchTypeOptimized, per §4.5.
var researchTypeStrategy = map[query.ResearchType]Strategy{
	query.ResearchImplementation:  StrategyHighestSuccessRate,
	query.ResearchTroubleshooting: StrategyHighestSuccessRate,
	query.ResearchLearning:        StrategyLowestLatency,
	query.ResearchValidation:      "quality", // argmax quality, selector-internal
	query.ResearchDecision:       StrategyBalanced,
}

// Selector chooses an eligible provider per request.
type Selector struct {
	registry *providerregistry.Registry
	rrCursor uint64
}

// New creates a Selector over registry.
func New(registry *providerregistry.Registry) *Selector {
	return &Selector{registry: registry}
}

// Select returns the chosen provider's name under strategy, excluding any
// name in exclude (used by failover re-selection).
func (s *Selector) Select(ctx context.Context, strategy Strategy, researchType query.ResearchType, q string, exclude map[string]bool) (string, provider.Provider, error) {
	eligible := s.registry.Eligible()
	var candidates []string
	for _, name := range eligible {
		if !exclude[name] {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates) // stable order so the round-robin cursor cycles
	if len(candidates) == 0 {
		return "", nil, ferrors.ErrNoProviders
	}

	resolved := strategy
	if strategy == StrategyResearchTypeOptimized {
		if mapped, ok := researchTypeStrategy[researchType]; ok {
			resolved = mapped
		} else {
			resolved = StrategyBalanced
		}
	}

	switch resolved {
	case StrategyRoundRobin:
		idx := atomic.AddUint64(&s.rrCursor, 1) - 1
		return candidates[idx%uint64(len(candidates))], s.mustGet(candidates[idx%uint64(len(candidates))]), nil

	case StrategyLowestLatency:
		return s.argmin(candidates, func(p provider.Performance) float64 {
			return float64(p.AverageLatency())
		})

	case StrategyHighestSuccessRate:
		return s.argmaxTiedByLatency(candidates)

	case StrategyCostOptimized:
		return s.cheapest(ctx, candidates, q)

	case "quality":
		return s.argmax(candidates, func(p provider.Performance) float64 { return p.AverageQuality() })

	case StrategyBalanced:
		return s.argmax(candidates, func(p provider.Performance) float64 { return p.HealthScore() })

	default:
		return "", nil, fmt.Errorf("unknown strategy %q: %w", resolved, ferrors.ErrConfiguration)
	}
}

func (s *Selector) mustGet(name string) provider.Provider {
	impl, err := s.registry.Get(name)
	if err != nil {
		return nil
	}
	return impl
}

func (s *Selector) argmax(candidates []string, score func(provider.Performance) float64) (string, provider.Provider, error) {
	var best string
	var bestScore float64
	first := true
	for _, name := range candidates {
		_, _, _, perf, ok := s.registry.Provider(name)
		if !ok {
			continue
		}
		sc := score(perf)
		if first || sc > bestScore {
			best, bestScore = name, sc
			first = false
		}
	}
	if first {
		return "", nil, ferrors.ErrNoProviders
	}
	return best, s.mustGet(best), nil
}

func (s *Selector) argmin(candidates []string, score func(provider.Performance) float64) (string, provider.Provider, error) {
	var best string
	var bestScore float64
	first := true
	for _, name := range candidates {
		_, _, _, perf, ok := s.registry.Provider(name)
		if !ok {
			continue
		}
		sc := score(perf)
		if first || sc < bestScore {
			best, bestScore = name, sc
			first = false
		}
	}
	if first {
		return "", nil, ferrors.ErrNoProviders
	}
	return best, s.mustGet(best), nil
}

// argmaxTiedByLatency implements HighestSuccessRate, breaking ties by lower
// average latency.
func (s *Selector) argmaxTiedByLatency(candidates []string) (string, provider.Provider, error) {
	var best string
	var bestRate float64
	var bestLatency float64
	first := true
	for _, name := range candidates {
		_, _, _, perf, ok := s.registry.Provider(name)
		if !ok {
			continue
		}
		rate := perf.SuccessRate()
		latency := float64(perf.AverageLatency())
		switch {
		case first:
			best, bestRate, bestLatency, first = name, rate, latency, false
		case rate > bestRate, rate == bestRate && latency < bestLatency:
			best, bestRate, bestLatency = name, rate, latency
		}
	}
	if first {
		return "", nil, ferrors.ErrNoProviders
	}
	return best, s.mustGet(best), nil
}

func (s *Selector) cheapest(ctx context.Context, candidates []string, q string) (string, provider.Provider, error) {
	var best string
	var bestCost float64
	first := true
	for _, name := range candidates {
		_, impl, _, _, ok := s.registry.Provider(name)
		if !ok || impl == nil {
			continue
		}
		est, err := impl.EstimateCost(ctx, q)
		if err != nil || !est.Available {
			continue
		}
		if first || est.CostUSD < bestCost {
			best, bestCost, first = name, est.CostUSD, false
		}
	}
	if first {
		return "", nil, ferrors.ErrNoProviders
	}
	return best, s.mustGet(best), nil
}
