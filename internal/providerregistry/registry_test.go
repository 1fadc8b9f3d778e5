package providerregistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/fortitude/internal/domain/ferrors"
	"github.com/Strob0t/fortitude/internal/domain/provider"
)

type stubProvider struct {
	healthErr error
}

func (s *stubProvider) ResearchQuery(context.Context, string) (string, error) { return "", nil }
func (s *stubProvider) Metadata() provider.Metadata                           { return provider.Metadata{Name: "stub"} }
func (s *stubProvider) HealthCheck(context.Context) error                     { return s.healthErr }
func (s *stubProvider) EstimateCost(context.Context, string) (provider.CostEstimate, error) {
	return provider.CostEstimate{}, nil
}
func (s *stubProvider) UsageStats() provider.UsageStats { return provider.UsageStats{} }

func TestAddStartsProviderEligibleWithZeroCounters(t *testing.T) {
	r := New(time.Minute)
	r.Add(provider.Record{Name: "p1", Enabled: true}, &stubProvider{})

	eligible := r.Eligible()
	if len(eligible) != 1 || eligible[0] != "p1" {
		t.Fatalf("expected p1 eligible, got %v", eligible)
	}

	_, _, _, perf, ok := r.Provider("p1")
	if !ok {
		t.Fatal("expected provider to be registered")
	}
	if perf.Total != 0 {
		t.Fatalf("expected zero counters, got %+v", perf)
	}
}

func TestRecordSuccessResetsConsecutiveFailures(t *testing.T) {
	r := New(time.Minute)
	r.Add(provider.Record{Name: "p1", Enabled: true}, &stubProvider{})

	r.Record("p1", false, 10*time.Millisecond, nil, nil)
	r.Record("p1", false, 10*time.Millisecond, nil, nil)
	r.Record("p1", true, 10*time.Millisecond, nil, nil)

	_, _, health, _, _ := r.Provider("p1")
	if health.Status != provider.StatusHealthy {
		t.Fatalf("expected Healthy after success, got %s", health.Status)
	}
	if health.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive failures reset, got %d", health.ConsecutiveFailures)
	}
}

func TestRecordThirdConsecutiveFailureMarksUnhealthy(t *testing.T) {
	r := New(time.Minute)
	r.Add(provider.Record{Name: "p1", Enabled: true}, &stubProvider{})

	r.Record("p1", false, time.Millisecond, nil, nil)
	r.Record("p1", false, time.Millisecond, nil, nil)
	_, _, health, _, _ := r.Provider("p1")
	if health.Status != provider.StatusHealthy {
		t.Fatalf("expected still Healthy after 2 failures, got %s", health.Status)
	}

	r.Record("p1", false, time.Millisecond, nil, nil)
	_, _, health, _, _ = r.Provider("p1")
	if health.Status != provider.StatusUnhealthy {
		t.Fatalf("expected Unhealthy after 3 consecutive failures, got %s", health.Status)
	}
}

func TestEligibleExcludesDisabledAndUnhealthy(t *testing.T) {
	r := New(time.Minute)
	r.Add(provider.Record{Name: "healthy", Enabled: true}, &stubProvider{})
	r.Add(provider.Record{Name: "disabled", Enabled: false}, &stubProvider{})
	r.Add(provider.Record{Name: "unhealthy", Enabled: true}, &stubProvider{})

	for i := 0; i < 3; i++ {
		r.Record("unhealthy", false, time.Millisecond, nil, nil)
	}

	eligible := r.Eligible()
	if len(eligible) != 1 || eligible[0] != "healthy" {
		t.Fatalf("expected only healthy eligible, got %v", eligible)
	}
}

func TestEligibleExcludesLowSuccessRate(t *testing.T) {
	r := New(time.Minute)
	r.Add(provider.Record{Name: "p1", Enabled: true}, &stubProvider{})

	for i := 0; i < 4; i++ {
		r.Record("p1", false, time.Millisecond, nil, nil)
	}
	// 3rd failure already marks Unhealthy, but verify the success-rate gate
	// independently by resetting health and checking Eligible logic directly.
	_, _, health, perf, _ := r.Provider("p1")
	health.Status = provider.StatusHealthy
	health.ConsecutiveFailures = 0
	if health.Eligible(perf) {
		t.Fatal("expected low success rate provider to be ineligible")
	}
}

func TestHealthCheckAllRespectsInterval(t *testing.T) {
	now := time.Now()
	r := New(time.Minute)
	r.now = func() time.Time { return now }
	probe := &stubProvider{healthErr: errors.New("down")}
	r.Add(provider.Record{Name: "p1", Enabled: true}, probe)

	statuses := r.HealthCheckAll(context.Background())
	if statuses["p1"] != provider.StatusDegraded {
		t.Fatalf("expected Degraded after failing probe, got %s", statuses["p1"])
	}

	probe.healthErr = nil
	statuses = r.HealthCheckAll(context.Background())
	if statuses["p1"] != provider.StatusDegraded {
		t.Fatalf("expected probe skipped within interval, status to remain Degraded, got %s", statuses["p1"])
	}

	now = now.Add(2 * time.Minute)
	statuses = r.HealthCheckAll(context.Background())
	if statuses["p1"] != provider.StatusDegraded {
		t.Fatalf("probe ran again but healthErr nil does not clear Degraded, got %s", statuses["p1"])
	}
}

func TestGetUnknownProviderReturnsNotFound(t *testing.T) {
	r := New(time.Minute)
	_, err := r.Get("ghost")
	if !errors.Is(err, ferrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
