package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/chainforge/contractforge/llm"
)

// BedrockProvider invokes foundation models through AWS Bedrock's Converse
// API. Unlike OllamaProvider it does not build raw HTTP
// requests: SigV4 signing and retries are owned by the AWS SDK, so it
// implements llm.NativeProvider instead of llm.HTTPProvider.
type BedrockProvider struct {
	mu       sync.Mutex
	clients  map[string]*bedrockruntime.Client // keyed by region
	newCfgFn func(ctx context.Context, region string) (aws.Config, error)
}

func init() {
	llm.RegisterProvider(NewBedrockProvider())
}

// NewBedrockProvider creates a Bedrock provider that lazily builds one SDK
// client per region the first time it's needed.
func NewBedrockProvider() *BedrockProvider {
	return &BedrockProvider{
		clients: make(map[string]*bedrockruntime.Client),
		newCfgFn: func(ctx context.Context, region string) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		},
	}
}

// Name returns the provider identifier.
func (b *BedrockProvider) Name() string {
	return "bedrock"
}

func (b *BedrockProvider) clientFor(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	if region == "" {
		region = "us-east-1"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[region]; ok {
		return c, nil
	}

	cfg, err := b.newCfgFn(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(cfg)
	b.clients[region] = client
	return client, nil
}

// Complete sends a Converse request and normalizes the reply into the
// shared llm.Response shape.
func (b *BedrockProvider) Complete(ctx context.Context, ep llm.NativeEndpoint, messages []llm.Message, temperature *float64, maxTokens int) (*llm.Response, error) {
	client, err := b.clientFor(ctx, ep.Region)
	if err != nil {
		return nil, llm.NewFatalError(err)
	}

	var systemBlocks []types.SystemContentBlock
	var convMessages []types.Message

	for _, msg := range messages {
		if msg.Role == "system" {
			systemBlocks = append(systemBlocks, &types.SystemContentBlockMemberText{Value: msg.Content})
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}

		convMessages = append(convMessages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
		})
	}

	if maxTokens <= 0 {
		maxTokens = 4096
	}
	inferenceCfg := &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if temperature != nil {
		inferenceCfg.Temperature = aws.Float32(float32(*temperature))
	}

	out, err := client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(ep.Model),
		Messages:        convMessages,
		System:          systemBlocks,
		InferenceConfig: inferenceCfg,
	})
	if err != nil {
		// Bedrock throttling/server errors surface as typed API errors;
		// without finer classification here, treat SDK failures as transient
		// so the client's retry/fallback chain gets a chance to recover.
		return nil, llm.NewTransientError(fmt.Errorf("bedrock converse: %w", err))
	}

	var content string
	if msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
				content += textBlock.Value
			}
		}
	}

	var promptTokens, completionTokens, totalTokens int
	if out.Usage != nil {
		promptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		completionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		totalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}

	return &llm.Response{
		Content:      content,
		Model:        ep.Model,
		TokensUsed:   totalTokens,
		FinishReason: string(out.StopReason),
		Usage: llm.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      totalTokens,
		},
	}, nil
}
