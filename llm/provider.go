package llm

import (
	"context"
	"net/http"
	"sync"
)

// Provider identifies a registered LLM backend. Every provider implements
// either HTTPProvider, for endpoints reachable over a generic OpenAI-style
// HTTP transport, or NativeProvider, for backends whose official SDK owns
// request execution.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "ollama").
	Name() string
}

// HTTPProvider builds and parses requests over net/http. The Client owns
// the HTTP transport (timeouts, retries); the provider only knows the
// wire format.
type HTTPProvider interface {
	Provider

	// BuildURL constructs the full API endpoint URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific authentication headers.
	SetHeaders(req *http.Request)

	// BuildRequestBody creates the JSON request body for the provider.
	// temperature is nil to use the provider default.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the response from provider-specific JSON.
	ParseResponse(body []byte, model string) (*Response, error)
}

// NativeEndpoint carries the subset of model.EndpointConfig a NativeProvider
// needs, without requiring providers to import the model package.
type NativeEndpoint struct {
	Model     string
	MaxTokens int
	Region    string // SDK-specific routing hint (e.g. Bedrock AWS region)
}

// NativeProvider delegates request execution to an official SDK client for
// backends that manage their own transport, auth, and retries (Anthropic,
// OpenAI, Bedrock). The Client's retry/backoff loop still wraps the call,
// but does not build the HTTP request itself.
type NativeProvider interface {
	Provider

	Complete(ctx context.Context, ep NativeEndpoint, messages []Message, temperature *float64, maxTokens int) (*Response, error)
}

// providerRegistry holds registered providers.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	return names
}
