// Package health implements the liveness and readiness probe endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	fn       CheckFunc
	critical bool
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler aggregates dependency checks. Liveness always succeeds while the
// process runs; readiness fails when any critical dependency is down.
type Handler struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
}

func NewHandler() *Handler {
	return &Handler{timeout: 5 * time.Second}
}

// RegisterCritical adds a check that gates readiness.
func (h *Handler) RegisterCritical(name string, fn CheckFunc) {
	h.register(name, fn, true)
}

// RegisterNonCritical adds a check that is reported but never fails readiness.
func (h *Handler) RegisterNonCritical(name string, fn CheckFunc) {
	h.register(name, fn, false)
}

func (h *Handler) register(name string, fn CheckFunc, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, fn: fn, critical: critical})
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: "up"})
}

// Ready handles GET /health/ready. It runs every registered check with a
// shared timeout and returns 503 when a critical one fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make(map[string]checkResult, len(checks))
	ready := true

	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			results[c.name] = checkResult{Status: "down", Error: err.Error()}
			if c.critical {
				ready = false
			}
			continue
		}
		results[c.name] = checkResult{Status: "up"}
	}

	status := http.StatusOK
	overall := "up"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "down"
	}

	writeReport(w, status, report{Status: overall, Checks: results})
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rep)
}
