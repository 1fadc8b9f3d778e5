// Package providerregistry implements the Provider Registry (C4): owns
// provider instances and tracks per-provider health and performance.
package providerregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/provider"
)

type entry struct {
	record   provider.Record
	impl     provider.Provider
	health   provider.Health
	perf     provider.Performance
	lastProbe time.Time
}

// Registry owns the set of configured providers and their health state.
type Registry struct {
	mu                 sync.RWMutex
	entries            map[string]*entry
	healthCheckInterval time.Duration
	now                func() time.Time
}

// New creates an empty Registry. healthCheckInterval bounds how often
// HealthCheckAll actually probes a given provider (§4.4 "at most once per
// health_check_interval").
func New(healthCheckInterval time.Duration) *Registry {
	return &Registry{
		entries:             make(map[string]*entry),
		healthCheckInterval: healthCheckInterval,
		now:                 time.Now,
	}
}

// Add registers a provider, starting it in the eligible Healthy state with
// zero counters (freshly-added providers start eligible, per §3).
func (r *Registry) Add(rec provider.Record, impl provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[rec.Name] = &entry{
		record: rec,
		impl:   impl,
		health: provider.Health{Status: provider.StatusHealthy, LastCheckedAt: r.now()},
	}
}

// Remove deregisters a provider.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Provider returns the registered record, implementation, health and
// performance for name.
func (r *Registry) Provider(name string) (provider.Record, provider.Provider, provider.Health, provider.Performance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return provider.Record{}, nil, provider.Health{}, provider.Performance{}, false
	}
	return e.record, e.impl, e.health, e.perf, true
}

// List returns every registered provider's record.
func (r *Registry) List() []provider.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.record)
	}
	return out
}

// Eligible returns the names of providers currently eligible for selection.
func (r *Registry) Eligible() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, e := range r.entries {
		if e.record.Enabled && e.health.Eligible(e.perf) {
			out = append(out, name)
		}
	}
	return out
}

// Record updates a provider's performance counters and health transition
// after a call completes.
func (r *Registry) Record(name string, success bool, latency time.Duration, cost, quality *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.perf.Record(success, latency, cost, quality)

	now := r.now()
	if success {
		e.health.Status = provider.StatusHealthy
		e.health.Reason = ""
		e.health.ConsecutiveFailures = 0
		e.health.LastSuccessAt = now
	} else {
		e.health.ConsecutiveFailures++
		e.health.LastFailureAt = now
		if e.health.ConsecutiveFailures >= 3 {
			e.health.Status = provider.StatusUnhealthy
			e.health.Reason = "too many consecutive failures"
		}
	}
}

// HealthCheckAll probes every registered provider whose last probe is older
// than healthCheckInterval, returning the resulting status map.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]provider.Status {
	r.mu.Lock()
	due := make([]*entry, 0, len(r.entries))
	now := r.now()
	for _, e := range r.entries {
		if now.Sub(e.lastProbe) >= r.healthCheckInterval {
			due = append(due, e)
		}
	}
	r.mu.Unlock()

	for _, e := range due {
		err := e.impl.HealthCheck(ctx)
		r.mu.Lock()
		e.lastProbe = r.now()
		e.health.LastCheckedAt = e.lastProbe
		if err != nil {
			e.health.Status = provider.StatusDegraded
			e.health.Reason = err.Error()
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]provider.Status, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.health.Status
	}
	return out
}

// Stats returns a snapshot of every provider's performance counters.
func (r *Registry) Stats() map[string]provider.Performance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]provider.Performance, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.perf
	}
	return out
}

// Get returns the Provider implementation for name, or ErrNotFound.
func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ferrors.ErrNotFound)
	}
	return e.impl, nil
}
