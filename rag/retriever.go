// Package rag retrieves reference contract templates to ground generation
// prompts. It embeds the incoming natural-language description once and
// asks storage for the nearest templates by cosine similarity.
package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chainforge/contractforge/llm"
	"github.com/chainforge/contractforge/storage"
)

// TemplateStore is the subset of storage.Store the retriever needs,
// narrowed so tests can supply a fake without a live Postgres connection.
type TemplateStore interface {
	SearchTemplates(ctx context.Context, query []float32, category string, limit int) ([]storage.TemplateMatch, error)
}

// maxResults caps how many templates are ever returned, regardless of how
// many clear the similarity floor.
const maxResults = 5

// Retriever wraps an embedding provider and the template store. A failure
// to embed the query is never fatal: Retrieve returns (nil, nil) so the
// generation stage falls back to an ungrounded prompt instead of failing
// the whole workflow over a RAG outage.
type Retriever struct {
	embeddings llm.EmbeddingProvider
	store      TemplateStore
	logger     *slog.Logger
}

// New builds a Retriever. logger may be nil, in which case slog.Default is used.
func New(embeddings llm.EmbeddingProvider, store TemplateStore, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embeddings: embeddings, store: store, logger: logger}
}

// Retrieve embeds description and returns up to maxResults matching
// templates, optionally restricted to category. A nil, nil return means
// "no grounding available" rather than an error: callers should proceed
// without template context instead of failing the workflow.
func (r *Retriever) Retrieve(ctx context.Context, description, category string) ([]storage.TemplateMatch, error) {
	if r.embeddings == nil {
		return nil, nil
	}

	vec, err := r.embeddings.Embed(ctx, description)
	if err != nil {
		r.logger.Warn("rag: embedding provider failed, proceeding without template grounding",
			"error", err)
		return nil, nil
	}

	matches, err := r.store.SearchTemplates(ctx, vec, category, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	return matches, nil
}
