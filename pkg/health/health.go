// Package health serves liveness and readiness probes for long-running
// filescan processes, such as the resume watcher. Checks cover the local
// dependencies a scan needs: the pending-job database and the disk it
// lives on.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"
)

// Checker is a single health check.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) CheckResult

func (f CheckFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// Status is a health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Report aggregates every registered check.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    float64                `json:"uptime_seconds"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Handler runs checks and serves them over HTTP.
type Handler struct {
	mu        sync.RWMutex
	checks    map[string]Checker
	ready     bool
	version   string
	timeout   time.Duration
	startTime time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithVersion reports the application version in every report.
func WithVersion(version string) Option {
	return func(h *Handler) { h.version = version }
}

// WithTimeout bounds a full check run. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// NewHandler creates a handler that is not ready until SetReady(true).
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		checks:    make(map[string]Checker),
		timeout:   5 * time.Second,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds or replaces a named check.
func (h *Handler) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// SetReady marks the process as able to do work.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady reports the readiness flag.
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Check runs every registered check concurrently. The overall status is
// the worst individual status; unknown results do not degrade it.
func (h *Handler) Check(ctx context.Context) Report {
	h.mu.RLock()
	checks := maps.Clone(h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]CheckResult, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			r := c.Check(ctx)
			r.Duration = time.Since(start)
			mu.Lock()
			results[name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Seconds(),
		Checks:    results,
	}
}

// LivenessHandler answers 200 whenever the process can serve HTTP.
func (h *Handler) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": StatusHealthy})
	})
}

// ReadinessHandler answers 503 until SetReady(true) and while any check
// is unhealthy.
func (h *Handler) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  StatusUnhealthy,
				"message": "not ready",
			})
			return
		}
		report := h.Check(r.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
}

// RegisterRoutes mounts /healthz and /readyz on mux.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DatabaseCheck pings a database.
type DatabaseCheck struct {
	Ping func(ctx context.Context) error
}

func (c *DatabaseCheck) Check(ctx context.Context) CheckResult {
	if c.Ping == nil {
		return CheckResult{Status: StatusUnknown, Message: "no ping function configured"}
	}
	if err := c.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

var (
	_ Checker = (*DatabaseCheck)(nil)
	_ Checker = (*DiskCheck)(nil)
	_ Checker = CheckFunc(nil)
)
