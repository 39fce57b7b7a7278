package stage

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/chainforge/contractforge/eventbus"
	"github.com/chainforge/contractforge/llm"
	"github.com/chainforge/contractforge/model"
	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/storage"
)

// Retriever is the subset of rag.Retriever the Generation stage needs.
type Retriever interface {
	Retrieve(ctx context.Context, description, category string) ([]storage.TemplateMatch, error)
}

// minDescriptionLen is the structural precondition on the NLP input,
// per spec.md §4.4.1.
const minDescriptionLen = 10

const (
	generationTimeout    = 30 * time.Second
	constructorTimeout   = 20 * time.Second
	generationTemperature = 0.3
)

var fencedSolidityBlock = regexp.MustCompile("(?s)```(?:solidity)?\\s*\\n?(.*?)```")

// GenerationStage turns a natural-language description into Solidity
// source, grounded by up to three RAG-retrieved templates, and derives
// constructor argument values with a second, shorter LLM call.
type GenerationStage struct {
	llmClient *llm.Client
	retriever Retriever
	networks  *network.Registry
	bus       *eventbus.Bus
	logger    *slog.Logger
}

// NewGenerationStage constructs a GenerationStage. logger may be nil.
func NewGenerationStage(llmClient *llm.Client, retriever Retriever, networks *network.Registry, bus *eventbus.Bus, logger *slog.Logger) *GenerationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationStage{llmClient: llmClient, retriever: retriever, networks: networks, bus: bus, logger: logger}
}

func (s *GenerationStage) Name() Name { return NameGeneration }

func (s *GenerationStage) Validate(_ context.Context, wf *Context) error {
	if len(strings.TrimSpace(wf.NLPDescription)) < minDescriptionLen {
		return NewError(s.Name(), KindValidation, fmt.Errorf("nlp_description must be at least %d characters", minDescriptionLen))
	}
	return nil
}

func (s *GenerationStage) Process(ctx context.Context, wf *Context) error {
	s.publish(ctx, wf.WorkflowID, eventbus.TypeGenerationStarted, map[string]any{"contract_type": wf.ContractType})

	contractType := wf.ContractType
	if contractType == "" {
		contractType = "Custom"
	}

	prompt := s.buildPrompt(ctx, wf.NLPDescription, contractType)

	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	temp := generationTemperature
	resp, err := s.llmClient.Complete(genCtx, llm.Request{
		Capability: string(model.CapabilityContractGeneration),
		Messages: []llm.Message{
			{Role: "system", Content: "You are a Solidity smart contract generator."},
			{Role: "user", Content: prompt},
		},
		Temperature: &temp,
	})
	if err != nil {
		wrapped := NewError(s.Name(), KindGeneration, fmt.Errorf("generate contract: %w", err))
		s.publish(ctx, wf.WorkflowID, eventbus.TypeGenerationFailed, map[string]any{"error": wrapped.Error()})
		return wrapped
	}

	code := extractSolidity(resp.Content)
	code = s.applyMetisVMPragmas(wf, code)

	wf.ContractCode = code
	wf.ConstructorArgs = s.deriveConstructorArgs(ctx, wf.NLPDescription, contractType)
	wf.OptimizationReport = map[string]any{
		"metisvm_requested":     wf.OptimizeForMetisVM,
		"floating_point":        wf.EnableFloatingPoint,
		"ai_inference":          wf.EnableAIInference,
		"prompt_tokens":         resp.Usage.PromptTokens,
		"completion_tokens":     resp.Usage.CompletionTokens,
	}

	s.publish(ctx, wf.WorkflowID, eventbus.TypeGenerationCompleted, map[string]any{
		"contract_type": contractType,
		"source_length": len(code),
	})
	return nil
}

func (s *GenerationStage) OnError(ctx context.Context, wf *Context, err error) {
	s.logger.Error("generation stage failed", "workflow_id", wf.WorkflowID, "error", err)
}

// buildPrompt assembles the system/user prompt: up to three RAG-retrieved
// templates as reference blocks, the user description, and the fixed
// requirements list (OpenZeppelin conventions, reentrancy guards, NatSpec,
// the pinned pragma, EVM as the target).
func (s *GenerationStage) buildPrompt(ctx context.Context, description, contractType string) string {
	var b strings.Builder
	b.WriteString("Generate a Solidity smart contract for the following request.\n\n")

	if s.retriever != nil {
		matches, err := s.retriever.Retrieve(ctx, description, strings.ToLower(contractType))
		if err != nil {
			s.logger.Warn("template retrieval failed, proceeding without grounding", "error", err)
		}
		for i, m := range matches {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "Reference template %d (%s):\n```solidity\n%s\n```\n\n", i+1, m.Template.Name, m.Template.SourceCode)
		}
	}

	fmt.Fprintf(&b, "Description: %s\n\n", description)
	b.WriteString("Requirements:\n")
	b.WriteString("- Follow OpenZeppelin conventions for standard token/access patterns.\n")
	b.WriteString("- Use reentrancy guards on any function that transfers value where applicable.\n")
	b.WriteString("- Write full NatSpec comments for the contract and public functions.\n")
	b.WriteString("- Start the file with `pragma solidity 0.8.27;`.\n")
	b.WriteString("- Target: EVM.\n")
	b.WriteString("Return only the Solidity source, in a fenced ```solidity code block.\n")
	return b.String()
}

// extractSolidity pulls a fenced solidity block out of the response if
// present; otherwise the trimmed response is assumed to be bare source.
func extractSolidity(response string) string {
	if m := fencedSolidityBlock.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

// applyMetisVMPragmas prepends the MetisVM compatibility pragmas when the
// caller opted in, the network is in the Hyperion family, and the feature
// registry actually grants MetisVM for that network (spec.md §4.4.1 step
// 5). A network that lacks the feature silently gets no pragmas; the
// Coordinator is responsible for recording the user-facing warning.
func (s *GenerationStage) applyMetisVMPragmas(wf *Context, code string) string {
	if !wf.OptimizeForMetisVM || !strings.Contains(wf.Network, "hyperion") {
		return code
	}
	if s.networks != nil && !s.networks.Supports(wf.Network, network.FeatureMetisVM) {
		return code
	}

	var pragmas strings.Builder
	pragmas.WriteString(`pragma metisvm ">=0.1.0";` + "\n")

	if wf.EnableFloatingPoint || containsFloatingPointIndicators(code) {
		pragmas.WriteString(`pragma metisvm_floating_point ">=0.1.0";` + "\n")
	}
	if wf.EnableAIInference || containsAIInferenceIndicators(code) {
		pragmas.WriteString(`pragma metisvm_ai_quantization ">=0.1.0";` + "\n")
	}

	return insertAfterPragma(code, pragmas.String())
}

var solidityPragmaLine = regexp.MustCompile(`(?m)^pragma solidity[^\n]*\n`)

// insertAfterPragma splices extra pragma lines in immediately after the
// `pragma solidity` line, or at the top of the file if none is found.
func insertAfterPragma(code, extra string) string {
	loc := solidityPragmaLine.FindStringIndex(code)
	if loc == nil {
		return extra + code
	}
	return code[:loc[1]] + extra + code[loc[1]:]
}

func containsFloatingPointIndicators(code string) bool {
	lower := strings.ToLower(code)
	for _, marker := range []string{"float", "fixed point", "fixedpoint", "decimal128", "ufixed"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func containsAIInferenceIndicators(code string) bool {
	lower := strings.ToLower(code)
	for _, marker := range []string{"inference", "quantiz", "aimodel", "neural"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// deriveConstructorArgs asks the LLM for concrete constructor values
// derived from the description. Any failure — timeout, retry exhaustion,
// or an unparsable response — falls back to an empty argument list rather
// than failing generation: the deployer can still submit zero-arg
// constructors, and a missing value is safer than a fabricated one.
func (s *GenerationStage) deriveConstructorArgs(ctx context.Context, description, contractType string) []any {
	cctx, cancel := context.WithTimeout(ctx, constructorTimeout)
	defer cancel()

	temp := generationTemperature
	resp, err := s.llmClient.Complete(cctx, llm.Request{
		Capability: string(model.CapabilityConstructorArgs),
		Messages: []llm.Message{
			{Role: "system", Content: "Return only a JSON array of constructor argument values, no prose."},
			{Role: "user", Content: fmt.Sprintf("Contract type: %s\nDescription: %s\nWhat constructor values should this contract be deployed with?", contractType, description)},
		},
		Temperature: &temp,
	})
	if err != nil {
		s.logger.Warn("constructor-arg derivation failed, using empty args", "error", err)
		return []any{}
	}

	raw := llm.ExtractJSONArray(resp.Content)
	if raw == "" {
		return []any{}
	}

	args, err := parseJSONArray(raw)
	if err != nil {
		s.logger.Warn("constructor-arg response was not valid JSON, using empty args", "error", err)
		return []any{}
	}
	return args
}

func (s *GenerationStage) publish(ctx context.Context, workflowID string, t eventbus.Type, data any) {
	if s.bus == nil {
		return
	}
	evt, err := eventbus.NewEvent(t, workflowID, string(s.Name()), data)
	if err != nil {
		s.logger.Warn("failed to build event", "type", t, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		// Per spec.md §4.1: publish failures are observability-only and
		// must never be treated as stage failures.
		s.logger.Warn("failed to publish event", "type", t, "error", err)
	}
}
