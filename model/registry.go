package model

import (
	"encoding/json"
	"sync"
)

// Registry resolves a Capability to a preferred model/endpoint with a
// fallback chain, and tracks per-endpoint health so llm.Client can skip an
// endpoint that is currently circuit-broken. It backs the two capabilities
// the Generation stage needs: CapabilityContractGeneration and
// CapabilityConstructorArgs.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[Capability]*CapabilityConfig
	endpoints    map[string]*EndpointConfig
	defaults     *DefaultsConfig
	health       *healthState
}

// CapabilityConfig defines model preferences for a capability.
type CapabilityConfig struct {
	// Description explains what this capability is for.
	Description string `json:"description"`

	// Preferred lists endpoint names in order of preference.
	// The first available endpoint is used.
	Preferred []string `json:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback"`
}

// EndpointConfig defines an available model endpoint. Provider selects
// which of the four registered llm.Provider implementations
// (anthropic, bedrock, openai, ollama) handles requests to it.
type EndpointConfig struct {
	// Provider is the model provider (anthropic, bedrock, openai, ollama).
	Provider string `json:"provider"`

	// URL is the API endpoint URL, used by the openai and ollama
	// providers; the anthropic and bedrock providers reach their SDK
	// client directly and ignore it.
	URL string `json:"url,omitempty"`

	// Model is the actual model identifier sent to the provider.
	Model string `json:"model"`

	// MaxTokens is the context window size.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Region is an SDK-specific routing hint, e.g. the AWS region for a
	// Bedrock endpoint. Ignored by providers that don't need it.
	Region string `json:"region,omitempty"`
}

// DefaultsConfig holds default model settings.
type DefaultsConfig struct {
	// Model is the default endpoint name when no capability matches.
	Model string `json:"model"`
}

// NewRegistry creates a new model registry with the given configuration.
func NewRegistry(caps map[Capability]*CapabilityConfig, endpoints map[string]*EndpointConfig) *Registry {
	return &Registry{
		capabilities: caps,
		endpoints:    endpoints,
		defaults: &DefaultsConfig{
			Model: "default",
		},
	}
}

// NewDefaultRegistry creates a registry seeded with contractforge's built-in
// catalog: a strong SDK-native model for contract generation with SDK-native
// fallbacks and a local Ollama model last, and a cheap, low-latency model for constructor-argument
// derivation with a local Ollama model as last resort so the pipeline still
// runs with no cloud credentials configured.
func NewDefaultRegistry() *Registry {
	return &Registry{
		capabilities: map[Capability]*CapabilityConfig{
			CapabilityContractGeneration: {
				Description: "Solidity contract generation from an NLP spec",
				Preferred:   []string{"claude-sonnet", "gpt-4o"},
				Fallback:    []string{"bedrock-claude", "qwen-coder"},
			},
			CapabilityConstructorArgs: {
				Description: "constructor argument derivation from an ABI",
				Preferred:   []string{"claude-haiku"},
				Fallback:    []string{"gpt-4o-mini", "qwen-coder"},
			},
		},
		endpoints: map[string]*EndpointConfig{
			"claude-sonnet": {
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 200000,
			},
			"claude-haiku": {
				Provider:  "anthropic",
				Model:     "claude-haiku-3-5-20241022",
				MaxTokens: 200000,
			},
			"gpt-4o": {
				Provider:  "openai",
				Model:     "gpt-4o",
				MaxTokens: 128000,
			},
			"gpt-4o-mini": {
				Provider:  "openai",
				Model:     "gpt-4o-mini",
				MaxTokens: 128000,
			},
			"bedrock-claude": {
				Provider:  "bedrock",
				Model:     "anthropic.claude-3-5-sonnet-20241022-v2:0",
				Region:    "us-east-1",
				MaxTokens: 200000,
			},
			"qwen-coder": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "qwen2.5-coder:14b",
				MaxTokens: 128000,
			},
		},
		defaults: &DefaultsConfig{
			Model: "qwen-coder",
		},
	}
}

// Resolve returns the preferred endpoint name for a capability.
func (r *Registry) Resolve(cap Capability) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.capabilities[cap]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaults.Model
}

// GetFallbackChain returns all endpoint names for a capability in order of
// preference, preferred entries first, then fallbacks.
func (r *Registry) GetFallbackChain(cap Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.capabilities[cap]; ok {
		chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
		chain = append(chain, cfg.Preferred...)
		chain = append(chain, cfg.Fallback...)
		return chain
	}
	return []string{r.defaults.Model}
}

// GetEndpoint returns the endpoint configuration for an endpoint name.
// Returns nil if the endpoint is not configured.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[name]
}

// SetCapability updates or adds a capability configuration. Used by
// config.Config.ModelRegistry to layer operator overrides on top of the
// built-in catalog.
func (r *Registry) SetCapability(cap Capability, cfg *CapabilityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capabilities == nil {
		r.capabilities = make(map[Capability]*CapabilityConfig)
	}
	r.capabilities[cap] = cfg
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	r.endpoints[name] = cfg
}

// SetDefault sets the default endpoint name.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defaults == nil {
		r.defaults = &DefaultsConfig{}
	}
	r.defaults.Model = name
}

// ListCapabilities returns all configured capabilities.
func (r *Registry) ListCapabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]Capability, 0, len(r.capabilities))
	for cap := range r.capabilities {
		caps = append(caps, cap)
	}
	return caps
}

// ListEndpoints returns all configured endpoint names.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	return names
}

// MarshalJSON implements json.Marshaler for the registry, used by
// handleHealthDetailed-style diagnostics endpoints that dump the live
// catalog. Health state is intentionally excluded: it's runtime-derived and
// would make the marshaled form non-deterministic between calls.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return json.Marshal(struct {
		Capabilities map[Capability]*CapabilityConfig `json:"capabilities"`
		Endpoints    map[string]*EndpointConfig       `json:"endpoints"`
		Defaults     *DefaultsConfig                  `json:"defaults,omitempty"`
	}{
		Capabilities: r.capabilities,
		Endpoints:    r.endpoints,
		Defaults:     r.defaults,
	})
}
