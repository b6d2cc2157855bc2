// Package health serves liveness and readiness endpoints.
//
// Checks run when an endpoint is requested, concurrently and each under its
// own timeout. An endpoint answers 200 when every check of its kind passes and 503
// otherwise, listing each check by name.
package health

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a check belongs to.
type Kind int

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Kind = iota
	// Readiness checks decide whether the process should receive traffic.
	Readiness
)

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

type result struct {
	name string
	err  error
}

// Health holds registered checks and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Kind][]check
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{checks: make(map[Kind][]check)}
}

// Add registers a check of the given kind.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[kind] = append(h.checks[kind], check{name: name, timeout: timeout, fn: fn})
}

// SetReady flips the manual readiness flag, e.g. off during graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// run executes all checks of kind and returns their results sorted by name.
func (h *Health) run(ctx context.Context, kind Kind) []result {
	h.mu.RLock()
	checks := slices.Clone(h.checks[kind])
	h.mu.RUnlock()

	results := make([]result, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			results[i] = result{name: c.name, err: c.fn(checkCtx)}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(results, func(a, b result) int { return strings.Compare(a.name, b.name) })
	return results
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.run(r.Context(), Liveness), true)
}

// ReadyEndpoint serves /readyz. It fails while the readiness flag is off even
// when every check passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.run(r.Context(), Readiness), h.ready.Load())
}

func writeResponse(w http.ResponseWriter, results []result, ready bool) {
	healthy := ready
	for _, res := range results {
		if res.err != nil {
			healthy = false
		}
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("status")
	if healthy {
		e.Str("ok")
	} else {
		e.Str("unhealthy")
	}
	if !ready {
		e.FieldStart("ready")
		e.Bool(false)
	}
	if len(results) > 0 {
		e.FieldStart("checks")
		e.ObjStart()
		for _, res := range results {
			e.FieldStart(res.name)
			if res.err != nil {
				e.Str(res.err.Error())
			} else {
				e.Str("ok")
			}
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
