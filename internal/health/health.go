// Package health serves the liveness and readiness probes of the control
// API.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every registered [Checker] passes.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/luna/internal/mcp"
	"github.com/MrWong99/luna/internal/resilience"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Result is the JSON body of both probes.
type Result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers concurrently on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Result{Status: "ok"})
}

// Readyz runs every checker with a [checkTimeout] deadline.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs all checkers and returns the combined result.
func (h *Handler) Evaluate(ctx context.Context) Result {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Status: "ok", Checks: checks}
	if !allOK {
		res.Status = "fail"
	}
	return res
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// Pinger is implemented by the settings store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a dependency with a Ping method.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BreakerStates is implemented by [resilience.Registry].
type BreakerStates interface {
	States() map[string]resilience.State
}

// Breakers fails while any backend circuit is open. Half-open circuits are
// considered ready since they admit probe calls.
func Breakers(name string, b BreakerStates) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		var open []string
		for n, s := range b.States() {
			if s == resilience.StateOpen {
				open = append(open, n)
			}
		}
		if len(open) == 0 {
			return nil
		}
		sort.Strings(open)
		return fmt.Errorf("open circuits: %s", strings.Join(open, ", "))
	}}
}

// Reporter is implemented by the speech fallback chains.
type Reporter interface {
	Healthy() error
}

// Healthy wraps a dependency that reports its own readiness.
func Healthy(name string, r Reporter) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return r.Healthy() }}
}

// ToolHealth is implemented by the tool host.
type ToolHealth interface {
	Health() []mcp.ToolHealth
}

// Tools fails when a tool that has been called at least minCalls times has
// an error rate above maxErrorRate.
func Tools(name string, h ToolHealth, minCalls int, maxErrorRate float64) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		var bad []string
		for _, t := range h.Health() {
			if t.CallCount >= minCalls && t.ErrorRate > maxErrorRate {
				bad = append(bad, fmt.Sprintf("%s (%.0f%% errors)", t.Name, t.ErrorRate*100))
			}
		}
		if len(bad) == 0 {
			return nil
		}
		sort.Strings(bad)
		return fmt.Errorf("failing tools: %s", strings.Join(bad, ", "))
	}}
}
