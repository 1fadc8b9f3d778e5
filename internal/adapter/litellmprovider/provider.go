// Package litellmprovider adapts the teacher's LiteLLM proxy client into
// the narrow Provider capability (§6) the core consumes.
package litellmprovider

import (
	"context"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Strob0t/fortitude/internal/adapter/litellm"
	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/provider"
)

// PricePerThousand names approximate USD cost per 1K tokens, input/output,
// used only for EstimateCost's informational figure.
type PricePerThousand struct {
	Input  float64
	Output float64
}

// Provider wraps a litellm.Client and a fixed model name as a
// provider.Provider implementation.
type Provider struct {
	client  *litellm.Client
	name    string
	model   string
	prices  PricePerThousand

	totalRequests int64
	totalTokens   int64
}

// New creates a litellm-backed Provider identified by name, targeting model
// on client. prices is used only for EstimateCost; zero prices make
// EstimateCost report an unavailable estimate.
func New(name string, model string, client *litellm.Client, prices PricePerThousand) *Provider {
	return &Provider{client: client, name: name, model: model, prices: prices}
}

// ResearchQuery sends prompt as a single user message and returns the
// model's text content.
func (p *Provider) ResearchQuery(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.ChatCompletion(ctx, litellm.ChatCompletionRequest{
		Model:    p.model,
		Messages: []litellm.ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", classifyLiteLLMError(err)
	}

	atomic.AddInt64(&p.totalRequests, 1)
	atomic.AddInt64(&p.totalTokens, int64(resp.TokensIn+resp.TokensOut))

	return resp.Content, nil
}

// Metadata reports the provider's stable identity.
func (p *Provider) Metadata() provider.Metadata {
	return provider.Metadata{Name: p.name, Version: p.model}
}

// HealthCheck asks the proxy whether its backing model pool is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	healthy, err := p.client.Health(ctx)
	if err != nil {
		return classifyLiteLLMError(err)
	}
	if !healthy {
		return &ferrors.UpstreamError{Status: 503, Permanent: false}
	}
	return nil
}

// EstimateCost approximates input/output token counts from the prompt
// length and reports a cost estimate if prices were configured.
func (p *Provider) EstimateCost(_ context.Context, query string) (provider.CostEstimate, error) {
	if p.prices.Input == 0 && p.prices.Output == 0 {
		return provider.CostEstimate{Available: false}, nil
	}

	inputTokens := len(query)/4 + 1
	outputTokens := inputTokens / 2

	cost := float64(inputTokens)/1000*p.prices.Input + float64(outputTokens)/1000*p.prices.Output
	return provider.CostEstimate{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Duration:     time.Duration(inputTokens+outputTokens) * time.Millisecond,
		CostUSD:      cost,
		Available:    true,
	}, nil
}

// UsageStats reports cumulative counters observed since process start.
func (p *Provider) UsageStats() provider.UsageStats {
	return provider.UsageStats{
		TotalRequests: atomic.LoadInt64(&p.totalRequests),
		TotalTokens:   atomic.LoadInt64(&p.totalTokens),
	}
}

var statusPattern = regexp.MustCompile(`litellm API error (\d+):`)

// classifyLiteLLMError turns the client's string-wrapped HTTP error into a
// typed ferrors.UpstreamError so retry.Classify can route it correctly.
// 4xx is permanent (bad request/auth/not-found); 5xx and anything
// unparseable (network failure, timeout) is treated as transient.
func classifyLiteLLMError(err error) error {
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return &ferrors.UpstreamError{Status: 0, Permanent: false}
	}
	status, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return &ferrors.UpstreamError{Status: 0, Permanent: false}
	}
	if status == 401 || status == 403 {
		return ferrors.ErrAuthentication
	}
	permanent := status >= 400 && status < 500
	return &ferrors.UpstreamError{Status: status, Permanent: permanent}
}
