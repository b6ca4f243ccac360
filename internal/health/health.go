// Package health reports whether the sweeper can do its job: the store
// answers, the dispatch engine and scheduler run, and fleet sweeps are not
// falling behind.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status of one dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) Status

const defaultCheckTimeout = 5 * time.Second

// Checker runs named checks and keeps the most recent results.
type Checker struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
	last   map[string]Status
}

// CheckerOption customizes a Checker.
type CheckerOption func(*Checker)

// WithTimeout bounds every individual check.
func WithTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a Checker with no checks.
func NewChecker(logger zerolog.Logger, opts ...CheckerOption) *Checker {
	c := &Checker{
		timeout: defaultCheckTimeout,
		logger:  logger.With().Str("component", "health").Logger(),
		checks:  make(map[string]CheckFunc),
		last:    make(map[string]Status),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Names lists the registered checks in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PingCheck adapts an error-returning probe; any error reports StatusDown.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// FlagCheck reports StatusDown while ok returns false.
func FlagCheck(ok func() bool) CheckFunc {
	return func(context.Context) Status {
		if ok() {
			return StatusOK
		}
		return StatusDown
	}
}

// FreshnessCheck reports StatusDegraded when the last run finished more than
// maxAge ago. Before the first run it reports StatusOK.
func FreshnessCheck(last func() (time.Time, bool), maxAge time.Duration, now func() time.Time) CheckFunc {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) Status {
		at, ok := last()
		if !ok || maxAge <= 0 {
			return StatusOK
		}
		if now().Sub(at) > maxAge {
			return StatusDegraded
		}
		return StatusOK
	}
}

// Last returns the results of the most recent RunAll.
func (c *Checker) Last() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

// RunAll runs every check concurrently, each under the checker timeout, and
// remembers the results for Last.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	type result struct {
		name   string
		status Status
	}
	ch := make(chan result, len(checks))
	for name, fn := range checks {
		go func() {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			ch <- result{name: name, status: fn(checkCtx)}
		}()
	}

	results := make(map[string]Status, len(checks))
	for range checks {
		r := <-ch
		if r.status != StatusOK {
			c.logger.Warn().Str("check", r.name).Str("status", string(r.status)).Msg("health check not ok")
		}
		results[r.name] = r.status
	}

	c.mu.Lock()
	c.last = results
	c.mu.Unlock()
	return results
}

// Ready reports whether no result is StatusDown. Degraded checks still count
// as ready.
func Ready(results map[string]Status) bool {
	for _, s := range results {
		if s == StatusDown {
			return false
		}
	}
	return true
}

// IsReady runs every check and reports Ready.
func (c *Checker) IsReady(ctx context.Context) bool {
	return Ready(c.RunAll(ctx))
}

// LivenessHandler returns the /health handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler returns the /ready handler.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.RunAll(r.Context())
		if !Ready(results) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": results})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
