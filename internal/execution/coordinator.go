// Package execution implements the Execution Coordinator (C8): the
// sequential pipeline from a raw query to a ResearchResult, wiring the
// classifier, prompt synthesizer, cache, provider selector, rate limiter,
// and retry controller together.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/fortitude/internal/cache"
	"github.com/Strob0t/fortitude/internal/classifier"
	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/query"
	"github.com/Strob0t/fortitude/internal/promptsynth"
	"github.com/Strob0t/fortitude/internal/providerregistry"
	"github.com/Strob0t/fortitude/internal/providerselector"
	"github.com/Strob0t/fortitude/internal/ratelimit"
	"github.com/Strob0t/fortitude/internal/retry"
)

// Result is what the coordinator returns for a successful or failed execution.
type Result struct {
	Answer        string
	ProviderName  string
	FromCache     bool
	Fingerprint   query.Fingerprint
	Classification query.Classification
	Plan          query.PromptPlan
}

// Coordinator wires C1-C7 together into the §4.8 pipeline.
type Coordinator struct {
	cache             *cache.Cache
	registry          *providerregistry.Registry
	selector          *providerselector.Selector
	retryController    *retry.Controller
	limiters          map[string]*ratelimit.Limiter
	maxFailoverAttempts int
	strategy          providerselector.Strategy
	cacheTTL          time.Duration
	now               func() time.Time
}

// New creates a Coordinator. limiters must hold one ratelimit.Limiter per
// registered provider name.
func New(c *cache.Cache, registry *providerregistry.Registry, selector *providerselector.Selector, retryController *retry.Controller, limiters map[string]*ratelimit.Limiter, strategy providerselector.Strategy, maxFailoverAttempts int, cacheTTL time.Duration) *Coordinator {
	return &Coordinator{
		cache:               c,
		registry:            registry,
		selector:            selector,
		retryController:     retryController,
		limiters:            limiters,
		maxFailoverAttempts: maxFailoverAttempts,
		strategy:            strategy,
		cacheTTL:            cacheTTL,
		now:                 time.Now,
	}
}

// Execute implements §4.8's pipeline for a single raw query.
func (co *Coordinator) Execute(ctx context.Context, rawQuery string) (Result, error) {
	c, err := classifier.Classify(rawQuery)
	if err != nil {
		return Result{}, err
	}
	plan := promptsynth.Plan(rawQuery, c)
	fp := query.Compute(rawQuery, c)

	if payload, ok, err := co.cache.Lookup(ctx, fp); err != nil {
		return Result{}, fmt.Errorf("execution: cache lookup: %w", err)
	} else if ok {
		return Result{Answer: string(payload), FromCache: true, Fingerprint: fp, Classification: c, Plan: plan}, nil
	}

	var providerName string
	answer, _, err := co.cache.Coalesce(ctx, fp, func() ([]byte, error) {
		payload, name, callErr := co.executeWithFailover(ctx, rawQuery, plan, c)
		if callErr != nil {
			return nil, callErr
		}
		if storeErr := co.cache.Store(ctx, fp, []byte(payload), co.cacheTTL, string(c.ResearchType), rawQuery, nil); storeErr != nil {
			return nil, fmt.Errorf("execution: cache store: %w", storeErr)
		}
		providerName = name
		return []byte(payload), nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Answer: string(answer), ProviderName: providerName, Fingerprint: fp, Classification: c, Plan: plan}, nil
}

// executeWithFailover selects a provider, acquires its rate limiter, invokes
// it under retry, and re-selects on transient failure up to
// maxFailoverAttempts (§4.8 steps 4-9).
func (co *Coordinator) executeWithFailover(ctx context.Context, rawQuery string, plan query.PromptPlan, c query.Classification) (string, string, error) {
	exclude := map[string]bool{}
	estimatedInputTokens := estimateTokens(plan.SystemText) + estimateTokens(plan.UserText)

	for attempt := 0; attempt <= co.maxFailoverAttempts; attempt++ {
		name, impl, err := co.selector.Select(ctx, co.strategy, c.ResearchType, rawQuery, exclude)
		if err != nil {
			if errors.Is(err, ferrors.ErrNoProviders) {
				return "", "", ferrors.ErrAllProvidersFailed
			}
			return "", "", err
		}

		limiter := co.limiters[name]
		var release ratelimit.Release
		if limiter != nil {
			release, err = limiter.Acquire(estimatedInputTokens)
			if err != nil {
				exclude[name] = true
				continue
			}
		}

		start := co.now()
		var answer string
		callErr := co.retryController.Execute(ctx, func(ctx context.Context) error {
			callCtx := ctx
			a, e := impl.ResearchQuery(callCtx, plan.UserText)
			answer = a
			return e
		})
		latency := co.now().Sub(start)
		if release != nil {
			release()
		}

		if callErr == nil {
			co.registry.Record(name, true, latency, nil, nil)
			return answer, name, nil
		}

		transient, _ := retry.Classify(callErr)
		co.registry.Record(name, false, latency, nil, nil)
		if !transient {
			return "", "", callErr
		}
		exclude[name] = true
	}
	return "", "", ferrors.ErrAllProvidersFailed
}

func estimateTokens(s string) int {
	return len(s)/4 + 1
}
