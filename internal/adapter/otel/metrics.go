package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "fortitude"

// Metrics holds all Fortitude metric instruments.
type Metrics struct {
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	CacheEvictions metric.Int64Counter

	RateLimitAdmitted metric.Int64Counter
	RateLimitDenied   metric.Int64Counter

	ProviderRequests metric.Int64Counter
	ProviderFailures metric.Int64Counter
	ProviderLatency  metric.Float64Histogram

	QueueDepth           metric.Int64UpDownCounter
	TaskStateTransitions metric.Int64Counter
	TaskDuration         metric.Float64Histogram

	RetryAttempts metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.CacheHits, err = meter.Int64Counter("fortitude.cache.hits",
		metric.WithDescription("Number of response cache lookups that hit"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("fortitude.cache.misses",
		metric.WithDescription("Number of response cache lookups that missed"))
	if err != nil {
		return nil, err
	}

	m.CacheEvictions, err = meter.Int64Counter("fortitude.cache.evictions",
		metric.WithDescription("Number of cache entries evicted for exceeding the size cap"))
	if err != nil {
		return nil, err
	}

	m.RateLimitAdmitted, err = meter.Int64Counter("fortitude.ratelimit.admitted",
		metric.WithDescription("Number of requests admitted by the rate limiter"))
	if err != nil {
		return nil, err
	}

	m.RateLimitDenied, err = meter.Int64Counter("fortitude.ratelimit.denied",
		metric.WithDescription("Number of requests denied by the rate limiter"))
	if err != nil {
		return nil, err
	}

	m.ProviderRequests, err = meter.Int64Counter("fortitude.provider.requests",
		metric.WithDescription("Number of research queries issued to a provider"))
	if err != nil {
		return nil, err
	}

	m.ProviderFailures, err = meter.Int64Counter("fortitude.provider.failures",
		metric.WithDescription("Number of research queries that failed"))
	if err != nil {
		return nil, err
	}

	m.ProviderLatency, err = meter.Float64Histogram("fortitude.provider.latency_seconds",
		metric.WithDescription("Provider research query latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("fortitude.queue.depth",
		metric.WithDescription("Current number of tasks waiting in the priority queue"))
	if err != nil {
		return nil, err
	}

	m.TaskStateTransitions, err = meter.Int64Counter("fortitude.task.state_transitions",
		metric.WithDescription("Number of task state transitions observed"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("fortitude.task.duration_seconds",
		metric.WithDescription("Time from task enqueue to terminal state, in seconds"))
	if err != nil {
		return nil, err
	}

	m.RetryAttempts, err = meter.Int64Counter("fortitude.retry.attempts",
		metric.WithDescription("Number of retry attempts issued after a transient failure"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
