// Package health reports whether the dictation backends can run.
//
// The same checker list serves two consumers: the HTTP probes
//
//   - /healthz: liveness; always returns 200 OK.
//   - /readyz: readiness; returns 200 only when every required [Checker]
//     passes.
//
// and the "doctor" CLI command, which prints a [Report].
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single check.
const checkTimeout = 5 * time.Second

// maxConcurrent caps how many checks run at once; ffmpeg and model checks
// touch the disk or spawn processes.
const maxConcurrent = 4

// Checker is a named health check function. Check returns nil when the
// dependency is usable and an error describing the problem otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "model", "ffmpeg"). It
	// appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional checkers are reported but never fail readiness. Used for
	// fallbacks the user may not have set up.
	Optional bool
}

// Report is the outcome of running every checker once.
type Report struct {
	OK     bool
	Checks []Result
}

// Result is one checker's outcome. Err is nil on success.
type Result struct {
	Name     string
	Optional bool
	Err      error
	Took     time.Duration
}

// Status renders r the way /readyz does.
func (r Result) Status() string {
	switch {
	case r.Err == nil:
		return "ok"
	case r.Optional:
		return "warn: " + r.Err.Error()
	default:
		return "fail: " + r.Err.Error()
	}
}

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler runs a fixed list of checkers. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a Handler for checkers. Reports list them in this order.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Run evaluates every checker concurrently, each under a [checkTimeout]
// deadline derived from ctx. The report keeps the checkers' order.
func (h *Handler) Run(ctx context.Context) Report {
	results := make([]Result, len(h.checkers))
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			results[i] = Result{Name: c.Name, Optional: c.Optional, Err: err, Took: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{OK: true, Checks: results}
	for _, r := range results {
		if r.Err != nil && !r.Optional {
			rep.OK = false
		}
	}
	return rep
}

// Healthz reports liveness: a process that can answer is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, body{Status: "ok"})
}

// Readyz answers 200 when every required checker passes and 503 otherwise.
// Failed optional checks are reported with a "warn" prefix.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())

	b := body{Status: "ok", Checks: make(map[string]string, len(rep.Checks))}
	for _, c := range rep.Checks {
		b.Checks[c.Name] = c.Status()
	}
	code := http.StatusOK
	if !rep.OK {
		b.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, b)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, b body) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(b)
}
