package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// similarityThreshold is the minimum cosine similarity (1 - cosine distance)
// a template must clear to be considered a relevant retrieval candidate.
const similarityThreshold = 0.7

// CreateTemplate persists a reference contract and its embedding in the RAG corpus.
func (s *Store) CreateTemplate(ctx context.Context, t *ContractTemplate) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO contract_templates (id, name, category, description, tags, source_code, embedding, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		t.ID, t.Name, t.Category, t.Description, t.Tags, t.SourceCode, pgvector.NewVector(t.Embedding), t.Active)
	if err != nil {
		return "", fmt.Errorf("insert contract template: %w", err)
	}
	return t.ID, nil
}

// GetTemplate fetches a template by ID, including its embedding.
func (s *Store) GetTemplate(ctx context.Context, id string) (*ContractTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, category, COALESCE(description, ''), tags, source_code, embedding, active, created_at
		FROM contract_templates WHERE id = $1`, id)

	var t ContractTemplate
	var vec pgvector.Vector
	if err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Description, &t.Tags, &t.SourceCode, &vec, &t.Active, &t.CreatedAt); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contract template: %w", err)
	}
	t.Embedding = vec.Slice()
	return &t, nil
}

// TemplateMatch pairs a retrieved template with its similarity to the query embedding.
type TemplateMatch struct {
	Template   *ContractTemplate
	Similarity float64
}

// SearchTemplates returns the top-k templates whose embeddings are closest to
// query by cosine similarity, filtered to those at or above
// similarityThreshold. category, when non-empty, restricts the search to
// that template category. Callers (the RAG retriever) treat an empty result
// as "no grounding available" and fall back to an ungrounded generation prompt.
func (s *Store) SearchTemplates(ctx context.Context, query []float32, category string, limit int) ([]TemplateMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	v := pgvector.NewVector(query)

	const baseQuery = `
		SELECT id, name, category, COALESCE(description, ''), tags, source_code, embedding, active, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM contract_templates
		WHERE active AND ($3 = '' OR category = $3) AND 1 - (embedding <=> $1) >= $4
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := s.pool.Query(ctx, baseQuery, v, limit, category, similarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("search contract templates: %w", err)
	}
	defer rows.Close()

	var out []TemplateMatch
	for rows.Next() {
		var t ContractTemplate
		var vec pgvector.Vector
		var similarity float64
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Description, &t.Tags, &t.SourceCode, &vec, &t.Active, &t.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scan contract template match: %w", err)
		}
		t.Embedding = vec.Slice()
		out = append(out, TemplateMatch{Template: &t, Similarity: similarity})
	}
	return out, rows.Err()
}

// ListTemplatesByCategory returns every template in a category without ranking, used for seeding and admin listing.
func (s *Store) ListTemplatesByCategory(ctx context.Context, category string) ([]*ContractTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, category, COALESCE(description, ''), tags, source_code, embedding, active, created_at
		FROM contract_templates WHERE category = $1 ORDER BY created_at ASC`, category)
	if err != nil {
		return nil, fmt.Errorf("list contract templates: %w", err)
	}
	defer rows.Close()

	var out []*ContractTemplate
	for rows.Next() {
		var t ContractTemplate
		var vec pgvector.Vector
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Description, &t.Tags, &t.SourceCode, &vec, &t.Active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contract template: %w", err)
		}
		t.Embedding = vec.Slice()
		out = append(out, &t)
	}
	return out, rows.Err()
}
