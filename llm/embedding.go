package llm

import (
	"context"
	"sync"
)

// EmbeddingProvider turns text into a fixed-dimension vector for similarity
// search. The rag package is the only consumer: it embeds an incoming
// prompt once and hands the vector to storage's pgvector query.
type EmbeddingProvider interface {
	Name() string

	// Embed returns a single embedding vector for text. Dimension is
	// provider-specific; contract templates are stored at 1536 dimensions,
	// so a provider used for retrieval must match that width.
	Embed(ctx context.Context, text string) ([]float32, error)
}

var (
	embeddingRegistry = make(map[string]EmbeddingProvider)
	embeddingMu       sync.RWMutex
)

// RegisterEmbeddingProvider adds a provider to the embedding registry.
func RegisterEmbeddingProvider(p EmbeddingProvider) {
	embeddingMu.Lock()
	defer embeddingMu.Unlock()
	embeddingRegistry[p.Name()] = p
}

// GetEmbeddingProvider retrieves a registered embedding provider by name.
func GetEmbeddingProvider(name string) EmbeddingProvider {
	embeddingMu.RLock()
	defer embeddingMu.RUnlock()
	return embeddingRegistry[name]
}
