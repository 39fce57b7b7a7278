package network

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// NetworkConfig describes one target chain: its wire identity and the
// feature/fallback maps the rest of the engine consults. Immutable once
// registered; Register replaces the whole value rather than mutating fields
// in place.
type NetworkConfig struct {
	// ChainID is the EVM chain ID.
	ChainID uint64 `json:"chain_id"`

	// RPCEndpoint is the JSON-RPC URL used by chainrpc for this network.
	RPCEndpoint string `json:"rpc_endpoint"`

	// Explorer is the block explorer base URL, used only for user-facing links.
	Explorer string `json:"explorer"`

	// Features is the dense feature bit-set for this network. Features
	// absent from the map are treated as unsupported by Supports.
	Features map[Feature]bool `json:"features"`

	// Fallbacks holds a human-readable fallback description per
	// unsupported feature, surfaced to callers as workflow warnings.
	Fallbacks map[Feature]string `json:"fallbacks"`
}

// configHash returns a stable digest of cfg's JSON encoding, used by
// Register to detect "same config re-registered" (a no-op) versus a
// conflicting registration (a replace) without a deep struct comparison.
func configHash(cfg *NetworkConfig) string {
	keys := make([]string, 0, len(cfg.Features))
	for f := range cfg.Features {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)

	// Marshal through a canonical form: map iteration order is randomized
	// in Go, so json.Marshal alone would make equal configs hash
	// differently across calls.
	canonical := struct {
		ChainID     uint64             `json:"chain_id"`
		RPCEndpoint string             `json:"rpc_endpoint"`
		Explorer    string             `json:"explorer"`
		Features    []string           `json:"features"`
		Fallbacks   map[Feature]string `json:"fallbacks"`
	}{
		ChainID:     cfg.ChainID,
		RPCEndpoint: cfg.RPCEndpoint,
		Explorer:    cfg.Explorer,
		Fallbacks:   cfg.Fallbacks,
	}
	for _, k := range keys {
		if cfg.Features[Feature(k)] {
			canonical.Features = append(canonical.Features, k)
		}
	}

	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

type registeredNetwork struct {
	cfg  *NetworkConfig
	hash string
}

// Registry is the network feature registry: a flat map from network id to
// NetworkConfig, guarded by a RWMutex the same way the LLM model registry
// guards its capability/endpoint maps.
type Registry struct {
	mu       sync.RWMutex
	networks map[string]*registeredNetwork
}

// NewRegistry returns an empty registry. Most callers want
// NewDefaultRegistry, which seeds the built-in catalog.
func NewRegistry() *Registry {
	return &Registry{networks: make(map[string]*registeredNetwork)}
}

// Register adds or replaces a network's configuration. Idempotent:
// registering the same network id with byte-for-byte equivalent features,
// endpoint, and fallbacks is a no-op; registering with a different config
// replaces the previous entry outright.
func (r *Registry) Register(id string, cfg *NetworkConfig) {
	hash := configHash(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.networks[id]; ok && existing.hash == hash {
		return
	}
	r.networks[id] = &registeredNetwork{cfg: cfg, hash: hash}
}

// Features returns the full feature bit-set for a network. This is a total
// function: an unknown network id yields a map with every known feature set
// to false rather than an error, matching the "fallback totality" invariant.
func (r *Registry) Features(id string) map[Feature]bool {
	out := make(map[Feature]bool, len(All()))
	for _, f := range All() {
		out[f] = false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.networks[id]
	if !ok {
		return out
	}
	for f, v := range entry.cfg.Features {
		out[f] = v
	}
	return out
}

// Supports reports whether a network has a feature enabled. Unknown
// networks and unknown features both report false.
func (r *Registry) Supports(id string, feature Feature) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.networks[id]
	if !ok {
		return false
	}
	return entry.cfg.Features[feature]
}

// Fallback returns the human-readable fallback description for a network's
// unsupported feature. Returns a generic description for unknown
// networks/features/features with no recorded fallback text, so the
// Coordinator always has something to show in a warning.
func (r *Registry) Fallback(id string, feature Feature) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.networks[id]
	if ok {
		if msg, ok := entry.cfg.Fallbacks[feature]; ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("%s is not available on %s; proceeding without it", feature, id)
}

// RPCEndpoint returns the JSON-RPC URL registered for network, satisfying
// chainrpc.EndpointLookup so chainrpc.Router can resolve a distinct client
// per network without network importing chainrpc.
func (r *Registry) RPCEndpoint(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.networks[id]
	if !ok || entry.cfg.RPCEndpoint == "" {
		return "", false
	}
	return entry.cfg.RPCEndpoint, true
}

// Get returns a deep copy of the configuration for a network, or false if
// unregistered. The Features and Fallbacks maps are copied, not aliased,
// so a caller mutating the returned value can never reach back into the
// registry's own stored config (which NetworkConfig's doc comment
// promises is immutable once registered).
func (r *Registry) Get(id string) (*NetworkConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.networks[id]
	if !ok {
		return nil, false
	}
	cfg := *entry.cfg
	cfg.Features = make(map[Feature]bool, len(entry.cfg.Features))
	for f, v := range entry.cfg.Features {
		cfg.Features[f] = v
	}
	cfg.Fallbacks = make(map[Feature]string, len(entry.cfg.Fallbacks))
	for f, v := range entry.cfg.Fallbacks {
		cfg.Fallbacks[f] = v
	}
	return &cfg, true
}

// List returns every registered network id.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.networks))
	for id := range r.networks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
