package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"optionsmetrics/pkg/logger"
)

// Check probes one dependency; nil means healthy
type Check func(ctx context.Context) error

// WorkerSource reports workers that missed their schedule
type WorkerSource interface {
	GetUnhealthyWorkers(maxAge time.Duration) []string
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	startTime   time.Time
	serviceName string
	version     string

	mu     sync.RWMutex
	checks map[string]Check

	workers      WorkerSource
	workerMaxAge time.Duration
}

// New creates a new health check handler
func New(log *logger.Logger, serviceName, version string) *Handler {
	if log == nil {
		log = logger.Get()
	}
	return &Handler{
		log:         log.With("component", "health"),
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
		checks:      make(map[string]Check),
	}
}

// AddCheck registers a dependency probe under name
func (h *Handler) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// WatchWorkers makes readiness fail while any worker has not run within maxAge
func (h *Handler) WatchWorkers(src WorkerSource, maxAge time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers = src
	h.workerMaxAge = maxAge
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service      string                     `json:"service"`
	Version      string                     `json:"version"`
	Uptime       string                     `json:"uptime"`
	Timestamp    string                     `json:"timestamp"`
	Checks       map[string]ComponentHealth `json:"checks"`
	StaleWorkers []string                   `json:"stale_workers,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if service is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness fails when any dependency or worker is unhealthy
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, healthy, total := h.evaluate(ctx)

	code := http.StatusOK
	if healthy < total || len(status.StaleWorkers) > 0 {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warn("readiness check failed", "checks", status.Checks, "stale_workers", status.StaleWorkers)
	}

	writeJSON(w, code, status)
}

// HandleHealth returns detailed health status. Partial failure is reported
// as degraded with 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, healthy, total := h.evaluate(ctx)

	code := http.StatusOK
	switch {
	case total > 0 && healthy == 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < total || len(status.StaleWorkers) > 0:
		status.Status = "degraded"
	}

	writeJSON(w, code, status)
}

func (h *Handler) evaluate(ctx context.Context) (HealthStatus, int, int) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	workers, maxAge := h.workers, h.workerMaxAge
	h.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]ComponentHealth, len(names))
	healthy := 0
	for _, name := range names {
		res := h.run(ctx, name, checks[name])
		if res.Status == "healthy" {
			healthy++
		}
		results[name] = res
	}

	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    results,
	}
	if workers != nil {
		status.StaleWorkers = workers.GetUnhealthyWorkers(maxAge)
	}
	return status, healthy, len(names)
}

func (h *Handler) run(ctx context.Context, name string, check Check) ComponentHealth {
	start := time.Now()
	err := check(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Error("health check failed", "check", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}

	return ComponentHealth{
		Status:       "healthy",
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
