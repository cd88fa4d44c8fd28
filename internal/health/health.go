// Package health serves the liveness and readiness endpoints. Liveness only
// proves the process is up; readiness runs the registered dependency checks
// (the session store, typically) and reports per-check latency so a slow
// database shows up before it starts failing.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness dependency.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health answers /healthz and /readyz.
type Health struct {
	started  time.Time
	checkers []Checker
}

// checkResult is the per-dependency readiness report.
type checkResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

type report struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// New returns a Health with the given readiness checkers.
func New(checkers ...Checker) *Health {
	return &Health{started: time.Now(), checkers: checkers}
}

// Register mounts the endpoints on mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /readyz", h.handleReadiness)
}

func (h *Health) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Health) handleReadiness(w http.ResponseWriter, r *http.Request) {
	rep := report{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Checks: make(map[string]checkResult, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := c.Check(ctx)
		elapsed := time.Since(start)
		cancel()

		res := checkResult{
			Status:    "ok",
			LatencyMS: float64(elapsed.Microseconds()) / 1000,
		}
		if err != nil {
			res.Status = "failed"
			res.Error = err.Error()
			rep.Status = "unavailable"
			status = http.StatusServiceUnavailable
			slog.Warn("readiness check failed", "check", c.Name, "err", err, "latency", elapsed)
		}
		rep.Checks[c.Name] = res
	}

	writeJSON(w, status, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
