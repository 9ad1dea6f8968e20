// Package health reports whether sesli can serve conversations.
//
// A [Handler] serves two probes:
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes, 503 otherwise.
//
// Both reply with {"status": "ok"|"fail", "checks": {name: "ok"|"fail: ..."}}.
// The same checkers back [Handler.Run], which terminal conversations use to
// verify their helper binaries before opening the microphone.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each individual check.
const checkTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report holds the outcome of one [Handler.Run], keyed by checker name.
type Report map[string]error

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, err := range r {
		if err != nil {
			return false
		}
	}
	return true
}

// Err joins the failures in name order, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(r)) {
		if err := r[name]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New returns a Handler for checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Run evaluates every checker concurrently, each under [checkTimeout].
func (h *Handler) Run(ctx context.Context) Report {
	var (
		mu  sync.Mutex
		rep = make(Report, len(h.checkers))
		g   errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			rep[c.Name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, body{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())

	out := body{Status: "ok", Checks: make(map[string]string, len(rep))}
	for name, err := range rep {
		out.Checks[name] = "ok"
		if err != nil {
			out.Checks[name] = "fail: " + err.Error()
		}
	}
	status := http.StatusOK
	if !rep.OK() {
		out.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
