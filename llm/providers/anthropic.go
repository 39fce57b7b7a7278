// Package providers implements LLM provider adapters.
package providers

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chainforge/contractforge/llm"
)

// anthropicMessagesAPI captures the subset of the Anthropic SDK used here, so
// tests can inject a fake rather than talking to the real API. Satisfied by
// *anthropic.MessageService.
type anthropicMessagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicProvider implements the Anthropic Messages API via the official
// SDK, which owns request signing, timeouts, and its own retry policy. The
// Client's retry/fallback loop wraps this call at a higher level; SDK
// errors are classified transient/fatal by classifyAnthropicError.
type AnthropicProvider struct {
	messages anthropicMessagesAPI
}

func init() {
	llm.RegisterProvider(NewAnthropicProvider())
}

// NewAnthropicProvider builds a provider backed by the default SDK client,
// which reads ANTHROPIC_API_KEY from the environment.
func NewAnthropicProvider() *AnthropicProvider {
	client := anthropic.NewClient()
	return &AnthropicProvider{messages: &client.Messages}
}

// Name returns the provider identifier.
func (a *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends a Messages.New request and normalizes the reply into the
// shared llm.Response shape.
func (a *AnthropicProvider) Complete(ctx context.Context, ep llm.NativeEndpoint, messages []llm.Message, temperature *float64, maxTokens int) (*llm.Response, error) {
	var systemBlocks []anthropic.TextBlockParam
	var msgParams []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			msgParams = append(msgParams, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgParams = append(msgParams, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ep.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgParams,
		System:    systemBlocks,
	}
	if temperature != nil {
		params.Temperature = anthropic.Float(*temperature)
	}

	msg, err := a.messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	promptTokens := int(msg.Usage.InputTokens)
	completionTokens := int(msg.Usage.OutputTokens)

	return &llm.Response{
		Content:      content.String(),
		Model:        string(msg.Model),
		TokensUsed:   promptTokens + completionTokens,
		FinishReason: string(msg.StopReason),
		Usage: llm.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// classifyAnthropicError maps SDK-level failures onto the transient/fatal
// split the Client's retry loop depends on. The SDK does not expose a typed
// distinction beyond HTTP status, so this mirrors classifyHTTPError's
// threshold reasoning against the API error's status code.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429, apiErr.StatusCode >= 500:
			return llm.NewTransientError(fmt.Errorf("anthropic api: %w", err))
		default:
			return llm.NewFatalError(fmt.Errorf("anthropic api: %w", err))
		}
	}
	// Network-level failures (no structured API error) are transient.
	return llm.NewTransientError(fmt.Errorf("anthropic request: %w", err))
}
