// Package health implements Kubernetes-style liveness and readiness probes.
//
// Every registered check runs on its own ticker goroutine. State transitions
// are threshold-based the way kubelet probes are: a check flips to unhealthy
// only after three consecutive failures, and recovers on the first success,
// so a single slow poll never takes the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	failuresToUnhealthy = 3
	successesToHealthy  = 1
)

// CheckFunc probes one component, returning nil when it is healthy.
type CheckFunc func(ctx context.Context) error

// probe is one registered check plus its runtime state.
//
// observe runs on a single goroutine, so the consecutive counters are plain
// ints. The ok flag and the last error are read from HTTP handler goroutines
// and therefore atomic.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	ok      atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	p := &probe{name: name, timeout: timeout, check: check}
	// Healthy until proven otherwise.
	p.ok.Store(true)
	return p
}

// observe runs the check once and applies the thresholds. Single-goroutine.
func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.successes = 0
		if p.fails++; p.fails >= failuresToUnhealthy {
			p.ok.Store(false)
		}
		return
	}

	p.fails = 0
	if p.successes++; p.successes >= successesToHealthy {
		p.ok.Store(true)
	}
}

func (p *probe) healthy() bool { return p.ok.Load() }

func (p *probe) lastError() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

// Health aggregates liveness and readiness probes for a service.
type Health struct {
	ready atomic.Bool

	// mu guards the probe slices and cancel. Registration happens before
	// Start; handlers only take brief read locks to snapshot the slices.
	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health that reports not-ready until SetReady(true) is called.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe deciding whether the process should be
// restarted (goroutine leaks, deadlocks, GC stalls).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a probe deciding whether the service should
// receive traffic (database connectivity, warmup, dependencies).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start launches one polling goroutine per registered probe. Call it once,
// after registration.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go poll(ctx, p, interval)
	}
}

func poll(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.observe(ctx)
		}
	}
}

// SetReady flips the manual readiness gate: true after initialization
// completes, false when draining before shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness probe passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}

	h.mu.RLock()
	probes := h.readiness
	h.mu.RUnlock()

	for _, p := range probes {
		if !p.healthy() {
			return false
		}
	}
	return true
}

// Stop cancels the polling goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} while all liveness probes
// pass, 503 with the failing probes otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := make([]*probe, len(h.liveness))
	copy(probes, h.liveness)
	h.mu.RUnlock()

	respond(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open and
// every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	ready := h.ready.Load()

	h.mu.RLock()
	probes := make([]*probe, len(h.readiness))
	copy(probes, h.readiness)
	h.mu.RUnlock()

	failed := failures(probes)
	if !ready {
		failed["_readiness"] = "service is not ready"
	}
	respond(w, failed)
}

// failures maps each unhealthy probe to its stored last error. Probes are not
// re-executed on the request path.
func failures(probes []*probe) map[string]string {
	failed := make(map[string]string)
	for _, p := range probes {
		if p.healthy() {
			continue
		}
		if err := p.lastError(); err != nil {
			failed[p.name] = err.Error()
		} else {
			failed[p.name] = "check is unhealthy"
		}
	}
	return failed
}

func respond(w http.ResponseWriter, failed map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failed
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
