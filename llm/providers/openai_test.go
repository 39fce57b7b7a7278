package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/contractforge/llm"
)

type fakeChatAPI struct {
	resp *openai.ChatCompletion
	err  error
	got  openai.ChatCompletionNewParams
}

func (f *fakeChatAPI) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestOpenAIProvider_Name(t *testing.T) {
	p := &OpenAIProvider{}
	assert.Equal(t, "openai", p.Name())
}

func TestOpenAIProvider_Complete(t *testing.T) {
	fake := &fakeChatAPI{resp: &openai.ChatCompletion{
		Model: "gpt-4o",
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "stop",
				Message:      openai.ChatCompletionMessage{Content: "hi there"},
			},
		},
		Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 6},
	}}
	p := &OpenAIProvider{chat: fake}

	resp, err := p.Complete(context.Background(), llm.NativeEndpoint{Model: "gpt-4o"}, []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
	}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 6, resp.Usage.CompletionTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	require.Len(t, fake.got.Messages, 2)
}

func TestOpenAIProvider_Complete_NoChoicesIsFatal(t *testing.T) {
	fake := &fakeChatAPI{resp: &openai.ChatCompletion{Model: "gpt-4o"}}
	p := &OpenAIProvider{chat: fake}

	_, err := p.Complete(context.Background(), llm.NativeEndpoint{Model: "gpt-4o"}, []llm.Message{{Role: "user", Content: "hi"}}, nil, 0)
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestOpenAIProvider_Complete_ErrorIsTransient(t *testing.T) {
	fake := &fakeChatAPI{err: errors.New("timeout")}
	p := &OpenAIProvider{chat: fake}

	_, err := p.Complete(context.Background(), llm.NativeEndpoint{Model: "gpt-4o"}, []llm.Message{{Role: "user", Content: "hi"}}, nil, 0)
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

type fakeEmbeddingAPI struct {
	resp *openai.CreateEmbeddingResponse
	err  error
}

func (f *fakeEmbeddingAPI) New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestOpenAIEmbeddingProvider_Embed(t *testing.T) {
	fake := &fakeEmbeddingAPI{resp: &openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float64{0.1, 0.2, 0.3}}},
	}}
	p := &OpenAIEmbeddingProvider{embeddings: fake, model: "text-embedding-3-small"}

	vec, err := p.Embed(context.Background(), "a solidity token contract")
	require.NoError(t, err)
	require.Len(t, vec, 3)
	assert.InDelta(t, 0.2, vec[1], 0.0001)
}

func TestOpenAIEmbeddingProvider_Embed_NoDataErrors(t *testing.T) {
	fake := &fakeEmbeddingAPI{resp: &openai.CreateEmbeddingResponse{}}
	p := &OpenAIEmbeddingProvider{embeddings: fake, model: "text-embedding-3-small"}

	_, err := p.Embed(context.Background(), "x")
	require.Error(t, err)
}
