package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/chainforge/contractforge/llm"
)

// openAIChatAPI captures the subset of the OpenAI SDK used for chat
// completion, so tests can inject a fake. Satisfied by
// *openai.ChatCompletionService.
type openAIChatAPI interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIProvider implements chat completion via the official OpenAI SDK.
// OpenRouter and other OpenAI-compatible gateways that only speak raw HTTP
// still go through OllamaProvider; this provider is for api.openai.com.
type OpenAIProvider struct {
	chat openAIChatAPI
}

func init() {
	llm.RegisterProvider(NewOpenAIProvider())
}

func NewOpenAIProvider() *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(""))
	return &OpenAIProvider{chat: &client.Chat.Completions}
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a Chat Completions request and normalizes the reply.
func (o *OpenAIProvider) Complete(ctx context.Context, ep llm.NativeEndpoint, messages []llm.Message, temperature *float64, maxTokens int) (*llm.Response, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(ep.Model),
		Messages: msgs,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if temperature != nil {
		params.Temperature = openai.Float(*temperature)
	}

	resp, err := o.chat.New(ctx, params)
	if err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("openai chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("openai chat completion: no choices returned"))
	}

	choice := resp.Choices[0]
	promptTokens := int(resp.Usage.PromptTokens)
	completionTokens := int(resp.Usage.CompletionTokens)

	return &llm.Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		TokensUsed:   promptTokens + completionTokens,
		FinishReason: string(choice.FinishReason),
		Usage: llm.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// openAIEmbeddingAPI captures the subset of the OpenAI SDK used for
// embeddings, so tests can inject a fake. Satisfied by
// *openai.EmbeddingService.
type openAIEmbeddingAPI interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIEmbeddingProvider embeds text via text-embedding-3-small, the model
// dimensioned to match the 1536-wide pgvector column templates are stored
// in. Separate from OpenAIProvider because embeddings and chat completion
// are different API surfaces with independent failure modes.
type OpenAIEmbeddingProvider struct {
	embeddings openAIEmbeddingAPI
	model      string
}

func init() {
	llm.RegisterEmbeddingProvider(NewOpenAIEmbeddingProvider())
}

func NewOpenAIEmbeddingProvider() *OpenAIEmbeddingProvider {
	client := openai.NewClient(option.WithAPIKey(""))
	return &OpenAIEmbeddingProvider{embeddings: &client.Embeddings, model: "text-embedding-3-small"}
}

func (o *OpenAIEmbeddingProvider) Name() string {
	return "openai"
}

func (o *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding: no data returned")
	}

	src := resp.Data[0].Embedding
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out, nil
}
