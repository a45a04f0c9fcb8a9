// Package health provides liveness and readiness probing for services.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is the outcome of a single probe.
type Check struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms"`
}

// Response is the aggregated health check response.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Service   string            `json:"service,omitempty"`
	Checks    map[string]*Check `json:"checks,omitempty"`
	Uptime    time.Duration     `json:"uptime_seconds,omitempty"`
}

// Checker is a function that performs one health probe.
type Checker func(ctx context.Context) error

type registeredCheck struct {
	checker  Checker
	critical bool
}

// Handler manages health checks for a service. Critical check
// failures mark the service unhealthy; optional failures only degrade
// it, which keeps readiness green while a best-effort dependency such
// as the event bus is down.
type Handler struct {
	mu        sync.RWMutex
	checks    map[string]registeredCheck
	service   string
	version   string
	startTime time.Time
}

// NewHandler creates a new health handler.
func NewHandler(service, version string) *Handler {
	return &Handler{
		checks:    make(map[string]registeredCheck),
		service:   service,
		version:   version,
		startTime: time.Now(),
	}
}

// AddCheck registers a critical health check.
func (h *Handler) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registeredCheck{checker: checker, critical: true}
}

// AddOptionalCheck registers a check whose failure degrades the
// service instead of failing readiness.
func (h *Handler) AddOptionalCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registeredCheck{checker: checker, critical: false}
}

// Check runs all health checks in parallel and aggregates the result.
func (h *Handler) Check(ctx context.Context) *Response {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := &Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
		Service:   h.service,
		Checks:    make(map[string]*Check),
		Uptime:    time.Since(h.startTime),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, rc := range h.checks {
		wg.Add(1)
		go func(name string, rc registeredCheck) {
			defer wg.Done()

			start := time.Now()
			err := rc.checker(ctx)
			latency := time.Since(start)

			check := &Check{
				Name:    name,
				Status:  StatusHealthy,
				Latency: latency / time.Millisecond,
			}
			if err != nil {
				check.Status = StatusUnhealthy
				check.Message = err.Error()
			}

			mu.Lock()
			resp.Checks[name] = check
			if check.Status == StatusUnhealthy {
				if rc.critical {
					resp.Status = StatusUnhealthy
				} else if resp.Status == StatusHealthy {
					resp.Status = StatusDegraded
				}
			}
			mu.Unlock()
		}(name, rc)
	}

	wg.Wait()
	return resp
}

// LivenessHandler returns an HTTP handler for the liveness probe.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler returns an HTTP handler for the readiness probe.
// Degraded still reads as ready.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := h.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// HealthHandler returns an HTTP handler for the detailed health check.
func (h *Handler) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		resp := h.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// DatabaseChecker wraps a database ping.
func DatabaseChecker(pingFunc func(ctx context.Context) error) Checker {
	return func(ctx context.Context) error {
		return pingFunc(ctx)
	}
}

// RedisChecker wraps a Redis ping.
func RedisChecker(pingFunc func(ctx context.Context) error) Checker {
	return func(ctx context.Context) error {
		return pingFunc(ctx)
	}
}

// KafkaChecker wraps a Kafka broker probe.
func KafkaChecker(pingFunc func(ctx context.Context) error) Checker {
	return func(ctx context.Context) error {
		return pingFunc(ctx)
	}
}
