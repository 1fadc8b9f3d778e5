package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Strob0t/fortitude/internal/cache"
	"github.com/Strob0t/fortitude/internal/providerregistry"
	"github.com/Strob0t/fortitude/internal/queue"
)

// Handlers serves the admin/observability surface (§6's narrow operational
// endpoints): process health plus read-only status snapshots of the
// provider fleet, task queue, and response cache.
type Handlers struct {
	Registry *providerregistry.Registry
	Queue    *queue.Queue
	Cache    *cache.Cache

	StartedAt time.Time
}

type healthResponse struct {
	Status  string        `json:"status"`
	Uptime  time.Duration `json:"uptime"`
}

// HandleHealth reports basic liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Uptime: time.Since(h.StartedAt)})
}

type providerStatus struct {
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS int64   `json:"avg_latency_ms"`
}

// HandleProviderStatus reports each registered provider's enabled state and
// derived performance counters (success rate, average latency).
func (h *Handlers) HandleProviderStatus(w http.ResponseWriter, _ *http.Request) {
	records := h.Registry.List()
	stats := h.Registry.Stats()

	out := make([]providerStatus, 0, len(records))
	for _, rec := range records {
		perf := stats[rec.Name]
		status := "disabled"
		if rec.Enabled {
			status = "enabled"
		}
		out = append(out, providerStatus{
			Name:         rec.Name,
			Status:       status,
			SuccessRate:  perf.SuccessRate(),
			AvgLatencyMS: perf.AverageLatency().Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type queueStatus struct {
	Size int `json:"size"`
}

// HandleQueueStatus reports the task queue's current depth.
func (h *Handlers) HandleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueStatus{Size: h.Queue.Size()})
}

// HandleCacheStatus reports the response cache's hit/miss counters.
func (h *Handlers) HandleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
