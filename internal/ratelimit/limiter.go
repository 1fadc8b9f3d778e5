// Package ratelimit implements per-provider token-bucket admission control,
// grounding the Rate Limiter (C1).
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
)

// Config bounds a provider's three token buckets and its concurrency semaphore.
type Config struct {
	MaxRequests       int
	MaxInputTokens    int
	MaxOutputTokens   int
	RequestsPerMin    int
	InputTokensPerMin int
	OutputTokensPerMin int
	MaxConcurrent     int
}

// Release is returned by Acquire and must be called exactly once when the
// caller's request completes, regardless of outcome.
type Release func()

// Limiter holds the three token buckets and concurrency semaphore for a
// single provider.
type Limiter struct {
	mu sync.Mutex
	cfg Config
	now func() time.Time

	requests     int
	inputTokens  int
	outputTokens int
	lastRefill   time.Time

	sem    chan struct{}
	closed chan struct{}
}

// New creates a Limiter with its buckets fully topped up. A zero burst
// maximum (MaxRequests, MaxInputTokens, MaxOutputTokens) defaults to the
// bucket's per-minute refill rate, so a caller that only configures a rate
// still starts with a usable burst capacity instead of a bucket that can
// never admit anything.
func New(cfg Config) *Limiter {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = cfg.RequestsPerMin
	}
	if cfg.MaxInputTokens == 0 {
		cfg.MaxInputTokens = cfg.InputTokensPerMin
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = cfg.OutputTokensPerMin
	}
	return &Limiter{
		cfg:          cfg,
		now:          time.Now,
		requests:     cfg.MaxRequests,
		inputTokens:  cfg.MaxInputTokens,
		outputTokens: cfg.MaxOutputTokens,
		lastRefill:   time.Now(),
		sem:          make(chan struct{}, maxInt(cfg.MaxConcurrent, 1)),
		closed:       make(chan struct{}),
	}
}

// Close unblocks any goroutine waiting on the concurrency semaphore with
// ferrors.ErrInternal ("service unavailable"), for graceful shutdown.
func (l *Limiter) Close() {
	close(l.closed)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// refill tops up buckets by whole elapsed minutes since lastRefill, clamped
// to each bucket's maximum, advancing lastRefill by exactly that many
// minutes (never to now) to avoid drift. Must be called with mu held.
func (l *Limiter) refill() {
	elapsed := l.now().Sub(l.lastRefill)
	minutes := int(elapsed / time.Minute)
	if minutes < 1 {
		return
	}

	l.requests = clamp(l.requests+minutes*l.cfg.RequestsPerMin, l.cfg.MaxRequests)
	l.inputTokens = clamp(l.inputTokens+minutes*l.cfg.InputTokensPerMin, l.cfg.MaxInputTokens)
	l.outputTokens = clamp(l.outputTokens+minutes*l.cfg.OutputTokensPerMin, l.cfg.MaxOutputTokens)
	l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

func clamp(v, max int) int {
	if v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}

// Acquire admits a request estimated to need estimatedInputTokens input
// tokens. On success, the caller holds one concurrency permit until release
// is called; on ferrors.ErrRateLimited, no tokens are consumed.
func (l *Limiter) Acquire(estimatedInputTokens int) (Release, error) {
	l.mu.Lock()
	l.refill()

	if l.requests < 1 || l.inputTokens < estimatedInputTokens {
		requestsRemaining, tokensRemaining := l.requests, l.inputTokens
		l.mu.Unlock()
		return nil, &ferrors.RateLimitedError{
			RetryAfter:        60 * time.Second,
			RequestsRemaining: requestsRemaining,
			TokensRemaining:   tokensRemaining,
		}
	}

	l.requests--
	l.inputTokens -= estimatedInputTokens
	l.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-l.closed:
		l.mu.Lock()
		l.requests++
		l.inputTokens += estimatedInputTokens
		l.mu.Unlock()
		return nil, fmt.Errorf("rate limiter shutting down: %w", ferrors.ErrInternal)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-l.sem
	}, nil
}

// ChargeOutputTokens debits the output-token bucket after a response is
// known, per §4.1's "output tokens are charged after the response is known".
func (l *Limiter) ChargeOutputTokens(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.outputTokens = clamp(l.outputTokens-n, l.cfg.MaxOutputTokens)
}

// Snapshot reports the current bucket levels, for metrics/admin surfacing.
type Snapshot struct {
	Requests     int
	InputTokens  int
	OutputTokens int
}

func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Snapshot{Requests: l.requests, InputTokens: l.inputTokens, OutputTokens: l.outputTokens}
}
