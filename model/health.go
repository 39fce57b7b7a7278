package model

import (
	"sync"
	"time"
)

// EndpointHealth is a point-in-time snapshot of an endpoint's circuit state.
type EndpointHealth struct {
	Available       bool      `json:"available"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	FailureCount    int       `json:"failure_count"`
	CircuitOpen     bool      `json:"circuit_open"`
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitempty"`
}

// HealthConfig tunes the breaker that Registry applies on top of each
// endpoint's fallback chain, independent of the per-network gobreaker
// instances chainrpc uses for RPC calls.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens and the endpoint is skipped by GetAvailableFallbackChain.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit stays closed-to-traffic.
	// Once it has elapsed, IsEndpointAvailable reports the endpoint available
	// to every caller until the next success or failure is recorded.
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig matches the retry budget llm.Client applies per
// endpoint (llm/retry.go): three attempts before moving to the next
// fallback, so three consecutive endpoint-level failures is a reasonable
// point to stop offering the endpoint at all for half a minute.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// healthState is the lazily-allocated breaker state for a Registry. It's
// nil until the first MarkEndpointSuccess/MarkEndpointFailure call, so a
// Registry built with NewRegistry and never marked carries no tracking
// overhead and IsEndpointAvailable reports every endpoint available.
type healthState struct {
	mu       sync.RWMutex
	config   HealthConfig
	statuses map[string]*EndpointHealth
}

func newHealthState(cfg HealthConfig) *healthState {
	return &healthState{config: cfg, statuses: make(map[string]*EndpointHealth)}
}

func (h *healthState) getOrCreate(name string) *EndpointHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	status, ok := h.statuses[name]
	if !ok {
		status = &EndpointHealth{Available: true}
		h.statuses[name] = status
	}
	return status
}

func (r *Registry) ensureHealth() *healthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.health == nil {
		r.health = newHealthState(DefaultHealthConfig())
	}
	return r.health
}

// MarkEndpointSuccess clears an endpoint's failure streak and closes its
// circuit, called by llm.Client after a request to name completes.
func (r *Registry) MarkEndpointSuccess(name string) {
	h := r.ensureHealth()
	status := h.getOrCreate(name)

	h.mu.Lock()
	defer h.mu.Unlock()
	status.LastSuccess = time.Now()
	status.FailureCount = 0
	status.Available = true
	status.CircuitOpen = false
}

// MarkEndpointFailure records a failed request against name, opening the
// circuit once FailureThreshold consecutive failures accumulate.
func (r *Registry) MarkEndpointFailure(name string) {
	h := r.ensureHealth()
	status := h.getOrCreate(name)

	h.mu.Lock()
	defer h.mu.Unlock()
	status.LastFailure = time.Now()
	status.FailureCount++
	if status.FailureCount >= h.config.FailureThreshold {
		status.CircuitOpen = true
		status.CircuitOpenedAt = time.Now()
		status.Available = false
	}
}

// IsEndpointAvailable reports whether llm.Client should attempt name: true
// for an endpoint with no recorded failures, an endpoint whose circuit is
// closed, or an open circuit whose RecoveryTimeout has elapsed (a
// half-open probe).
func (r *Registry) IsEndpointAvailable(name string) bool {
	r.mu.RLock()
	h := r.health
	r.mu.RUnlock()
	if h == nil {
		return true
	}

	h.mu.RLock()
	status, ok := h.statuses[name]
	if !ok {
		h.mu.RUnlock()
		return true
	}
	circuitOpen := status.CircuitOpen
	openedAt := status.CircuitOpenedAt
	recovery := h.config.RecoveryTimeout
	h.mu.RUnlock()

	if !circuitOpen {
		return true
	}
	return time.Since(openedAt) > recovery
}

// GetEndpointHealth returns a copy of name's health snapshot, or nil if
// nothing has ever been recorded for it.
func (r *Registry) GetEndpointHealth(name string) *EndpointHealth {
	r.mu.RLock()
	h := r.health
	r.mu.RUnlock()
	if h == nil {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	status, ok := h.statuses[name]
	if !ok {
		return nil
	}
	snapshot := *status
	return &snapshot
}

// GetAvailableFallbackChain filters cap's fallback chain down to endpoints
// IsEndpointAvailable currently allows. If every endpoint in the chain is
// circuit-open, it returns the full chain unfiltered — llm.Client trying a
// broken endpoint and getting a fast failure beats refusing the request
// outright.
func (r *Registry) GetAvailableFallbackChain(cap Capability) []string {
	chain := r.GetFallbackChain(cap)
	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if r.IsEndpointAvailable(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}

// SetHealthConfig overrides the breaker tuning for this registry.
func (r *Registry) SetHealthConfig(cfg HealthConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.health == nil {
		r.health = newHealthState(cfg)
	} else {
		r.health.config = cfg
	}
}

// ResetEndpointHealth discards name's recorded health, as if it had never
// been marked.
func (r *Registry) ResetEndpointHealth(name string) {
	r.mu.RLock()
	h := r.health
	r.mu.RUnlock()
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statuses, name)
}
