package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/contractforge/storage"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeTemplateStore struct {
	matches []storage.TemplateMatch
	err     error
	gotVec  []float32
	gotCat  string
	gotN    int
}

func (f *fakeTemplateStore) SearchTemplates(ctx context.Context, query []float32, category string, limit int) ([]storage.TemplateMatch, error) {
	f.gotVec = query
	f.gotCat = category
	f.gotN = limit
	return f.matches, f.err
}

func TestRetriever_Retrieve_PassesThroughMatches(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	store := &fakeTemplateStore{matches: []storage.TemplateMatch{
		{Template: &storage.ContractTemplate{Name: "ERC20Basic"}, Similarity: 0.9},
	}}
	r := New(embedder, store, nil)

	matches, err := r.Retrieve(context.Background(), "a fungible token with a fixed supply", "token")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "ERC20Basic", matches[0].Template.Name)
	assert.Equal(t, "token", store.gotCat)
	assert.Equal(t, maxResults, store.gotN)
}

func TestRetriever_Retrieve_EmbeddingFailureIsNotFatal(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("provider unavailable")}
	store := &fakeTemplateStore{}
	r := New(embedder, store, nil)

	matches, err := r.Retrieve(context.Background(), "a token", "")
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestRetriever_Retrieve_StoreErrorPropagates(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{0.1}}
	store := &fakeTemplateStore{err: errors.New("db down")}
	r := New(embedder, store, nil)

	_, err := r.Retrieve(context.Background(), "a token", "")
	require.Error(t, err)
}

func TestRetriever_Retrieve_NilEmbeddingProvider(t *testing.T) {
	store := &fakeTemplateStore{}
	r := New(nil, store, nil)

	matches, err := r.Retrieve(context.Background(), "a token", "")
	require.NoError(t, err)
	assert.Nil(t, matches)
}
