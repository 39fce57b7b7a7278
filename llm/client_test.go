package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainforge/contractforge/llm"
	_ "github.com/chainforge/contractforge/llm/providers" // register anthropic/bedrock/openai/ollama
	"github.com/chainforge/contractforge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaRegistry(endpointURL string) *model.Registry {
	return model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityConstructorArgs: {
				Description: "test capability",
				Preferred:   []string{"test-model"},
			},
		},
		map[string]*model.EndpointConfig{
			"test-model": {
				Provider: "ollama",
				URL:      endpointURL,
				Model:    "test-model",
			},
		},
	)
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		resp := chatResponse("constructor args: [100, \"0xabc\"]")
		resp["usage"] = map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := llm.NewClient(ollamaRegistry(server.URL))

	resp, err := client.Complete(context.Background(), llm.Request{
		Capability: "constructor_args",
		Messages:   []llm.Message{{Role: "user", Content: "derive constructor args"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "constructor args: [100, \"0xabc\"]", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClient_Complete_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("service temporarily unavailable"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("success after retries"))
	}))
	defer server.Close()

	client := llm.NewClient(ollamaRegistry(server.URL), llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       10 * time.Millisecond,
		BackoffMultiplier: 1.5,
		MaxBackoff:        100 * time.Millisecond,
	}))

	resp, err := client.Complete(context.Background(), llm.Request{
		Capability: "constructor_args",
		Messages:   []llm.Message{{Role: "user", Content: "derive constructor args"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "success after retries", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Complete_NoRetryOnFatalError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid API key"))
	}))
	defer server.Close()

	client := llm.NewClient(ollamaRegistry(server.URL))

	_, err := client.Complete(context.Background(), llm.Request{
		Capability: "constructor_args",
		Messages:   []llm.Message{{Role: "user", Content: "derive constructor args"}},
	})

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Complete_Fallback(t *testing.T) {
	var primaryAttempts, fallbackAttempts atomic.Int32

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryAttempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("primary down"))
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackAttempts.Add(1)
		json.NewEncoder(w).Encode(chatResponse("from fallback"))
	}))
	defer fallback.Close()

	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityConstructorArgs: {
				Preferred: []string{"primary"},
				Fallback:  []string{"fallback"},
			},
		},
		map[string]*model.EndpointConfig{
			"primary":  {Provider: "ollama", URL: primary.URL, Model: "primary-model"},
			"fallback": {Provider: "ollama", URL: fallback.URL, Model: "fallback-model"},
		},
	)

	client := llm.NewClient(registry, llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       1 * time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        10 * time.Millisecond,
	}))

	resp, err := client.Complete(context.Background(), llm.Request{
		Capability: "constructor_args",
		Messages:   []llm.Message{{Role: "user", Content: "derive constructor args"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, int32(2), primaryAttempts.Load())
	assert.Equal(t, int32(1), fallbackAttempts.Load())
}

func TestClient_Complete_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := llm.NewClient(ollamaRegistry(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, llm.Request{
		Capability: "constructor_args",
		Messages:   []llm.Message{{Role: "user", Content: "derive constructor args"}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestClient_Complete_ValidationErrors(t *testing.T) {
	client := llm.NewClient(model.NewDefaultRegistry())

	tests := []struct {
		name    string
		req     llm.Request
		wantErr string
	}{
		{
			name:    "empty capability",
			req:     llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}},
			wantErr: "capability is required",
		},
		{
			name:    "no messages",
			req:     llm.Request{Capability: "constructor_args"},
			wantErr: "at least one message is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Complete(context.Background(), tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
