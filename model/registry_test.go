package model

import (
	"encoding/json"
	"testing"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	caps := r.ListCapabilities()
	if len(caps) != 2 {
		t.Errorf("expected 2 capabilities, got %d", len(caps))
	}

	endpoints := r.ListEndpoints()
	if len(endpoints) < 3 {
		t.Errorf("expected at least 3 endpoints, got %d", len(endpoints))
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		capability Capability
		expected   string
	}{
		{CapabilityContractGeneration, "claude-sonnet"},
		{CapabilityConstructorArgs, "claude-haiku"},
		{Capability("unknown"), "qwen-coder"}, // falls back to default
	}

	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			got := r.Resolve(tt.capability)
			if got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.capability, got, tt.expected)
			}
		})
	}
}

func TestRegistryGetFallbackChain(t *testing.T) {
	r := NewDefaultRegistry()

	chain := r.GetFallbackChain(CapabilityContractGeneration)
	if len(chain) < 2 {
		t.Errorf("expected at least 2 endpoints in chain, got %d", len(chain))
	}
	if chain[0] != "claude-sonnet" {
		t.Errorf("first in chain should be claude-sonnet, got %q", chain[0])
	}

	hasBedrockFallback := false
	for _, name := range chain {
		if name == "bedrock-claude" {
			hasBedrockFallback = true
			break
		}
	}
	if !hasBedrockFallback {
		t.Error("expected bedrock-claude in fallback chain")
	}
}

func TestRegistryGetEndpoint(t *testing.T) {
	r := NewDefaultRegistry()

	endpoint := r.GetEndpoint("qwen-coder")
	if endpoint == nil {
		t.Fatal("expected qwen-coder endpoint to exist")
	}
	if endpoint.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %q", endpoint.Provider)
	}
	if endpoint.Model == "" {
		t.Error("expected model to be set")
	}

	if missing := r.GetEndpoint("nonexistent"); missing != nil {
		t.Error("expected nil for nonexistent endpoint")
	}
}

func TestRegistrySetCapability(t *testing.T) {
	r := NewDefaultRegistry()

	r.SetCapability(Capability("custom"), &CapabilityConfig{
		Description: "custom capability",
		Preferred:   []string{"model-a"},
		Fallback:    []string{"model-b"},
	})

	if got := r.Resolve(Capability("custom")); got != "model-a" {
		t.Errorf("expected model-a for custom capability, got %q", got)
	}
}

func TestRegistrySetEndpoint(t *testing.T) {
	r := NewDefaultRegistry()

	r.SetEndpoint("custom-model", &EndpointConfig{
		Provider:  "openai",
		URL:       "http://custom.example.com",
		Model:     "custom-v1",
		MaxTokens: 4096,
	})

	endpoint := r.GetEndpoint("custom-model")
	if endpoint == nil {
		t.Fatal("expected custom-model endpoint to exist")
	}
	if endpoint.URL != "http://custom.example.com" {
		t.Errorf("unexpected URL: %q", endpoint.URL)
	}
}

func TestRegistrySetDefault(t *testing.T) {
	r := NewDefaultRegistry()

	r.SetDefault("my-default")

	if got := r.Resolve(Capability("unknown")); got != "my-default" {
		t.Errorf("expected my-default for unknown capability, got %q", got)
	}
}

func TestRegistryMarshalJSON(t *testing.T) {
	r := NewDefaultRegistry()

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded struct {
		Capabilities map[string]*CapabilityConfig `json:"capabilities"`
		Endpoints    map[string]*EndpointConfig   `json:"endpoints"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(decoded.Capabilities) != 2 {
		t.Errorf("capability count mismatch: got %d, want 2", len(decoded.Capabilities))
	}
	if _, ok := decoded.Endpoints["qwen-coder"]; !ok {
		t.Error("expected qwen-coder endpoint in marshaled output")
	}
}

func TestNewRegistry(t *testing.T) {
	caps := map[Capability]*CapabilityConfig{
		CapabilityConstructorArgs: {
			Preferred: []string{"model-a"},
			Fallback:  []string{"model-b"},
		},
	}
	endpoints := map[string]*EndpointConfig{
		"model-a": {Provider: "openai", Model: "gpt-4o-mini"},
	}

	r := NewRegistry(caps, endpoints)

	if got := r.Resolve(CapabilityConstructorArgs); got != "model-a" {
		t.Errorf("expected model-a, got %q", got)
	}
	if endpoint := r.GetEndpoint("model-a"); endpoint == nil {
		t.Error("expected model-a endpoint to exist")
	}
}
