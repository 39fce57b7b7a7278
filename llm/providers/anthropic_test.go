package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/contractforge/llm"
)

type fakeMessagesAPI struct {
	resp *anthropic.Message
	err  error
	got  anthropic.MessageNewParams
}

func (f *fakeMessagesAPI) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestAnthropicProvider_Name(t *testing.T) {
	p := &AnthropicProvider{}
	assert.Equal(t, "anthropic", p.Name())
}

func TestAnthropicProvider_Complete_SplitsSystemMessage(t *testing.T) {
	fake := &fakeMessagesAPI{resp: &anthropic.Message{
		Model:      "claude-sonnet-4-5",
		StopReason: "end_turn",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "hello there"},
		},
		Usage: anthropic.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	p := &AnthropicProvider{messages: fake}

	messages := []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "say hi"},
	}

	resp, err := p.Complete(context.Background(), llm.NativeEndpoint{Model: "claude-sonnet-4-5"}, messages, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)

	require.Len(t, fake.got.System, 1)
	assert.Equal(t, "be terse", fake.got.System[0].Text)
	require.Len(t, fake.got.Messages, 1)
	assert.EqualValues(t, 4096, fake.got.MaxTokens)
}

func TestAnthropicProvider_Complete_PropagatesMaxTokens(t *testing.T) {
	fake := &fakeMessagesAPI{resp: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "ok"}},
	}}
	p := &AnthropicProvider{messages: fake}
	temp := 0.2

	_, err := p.Complete(context.Background(), llm.NativeEndpoint{Model: "claude-sonnet-4-5"}, []llm.Message{{Role: "user", Content: "hi"}}, &temp, 512)
	require.NoError(t, err)
	assert.EqualValues(t, 512, fake.got.MaxTokens)
}

func TestAnthropicProvider_Complete_WrapsFailureAsTransient(t *testing.T) {
	fake := &fakeMessagesAPI{err: errors.New("connection reset")}
	p := &AnthropicProvider{messages: fake}

	_, err := p.Complete(context.Background(), llm.NativeEndpoint{Model: "claude-sonnet-4-5"}, []llm.Message{{Role: "user", Content: "hi"}}, nil, 0)
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}
