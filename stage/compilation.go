package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/chainforge/contractforge/compiler"
	"github.com/chainforge/contractforge/eventbus"
)

// Compiler is the subset of compiler.Compiler the stage needs.
type Compiler interface {
	Compile(ctx context.Context, source string) (*compiler.Result, error)
}

// CompilationStage invokes the resolved solc binary against generated
// source and records the compiled artifact set.
type CompilationStage struct {
	compiler Compiler
	bus      *eventbus.Bus
	logger   *slog.Logger
}

// NewCompilationStage constructs a CompilationStage. logger may be nil.
func NewCompilationStage(c Compiler, bus *eventbus.Bus, logger *slog.Logger) *CompilationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompilationStage{compiler: c, bus: bus, logger: logger}
}

func (s *CompilationStage) Name() Name { return NameCompilation }

func (s *CompilationStage) Validate(_ context.Context, wf *Context) error {
	if wf.ContractCode == "" {
		return NewError(s.Name(), KindValidation, fmt.Errorf("contract_code is required"))
	}
	return nil
}

func (s *CompilationStage) Process(ctx context.Context, wf *Context) error {
	s.publish(ctx, wf.WorkflowID, eventbus.TypeCompilationStarted, nil)

	result, err := s.compiler.Compile(ctx, wf.ContractCode)
	if err != nil {
		wrapped := NewError(s.Name(), KindCompilation, err)
		s.publish(ctx, wf.WorkflowID, eventbus.TypeCompilationFailed, map[string]any{"error": err.Error()})
		return wrapped
	}

	sum := sha256.Sum256([]byte(wf.ContractCode))
	wf.CompiledContract = &CompiledContract{
		ContractName:     result.ContractName,
		ABI:              result.ABI,
		Bytecode:         result.Bytecode,
		DeployedBytecode: result.DeployedBytecode,
		SourceCodeHash:   hex.EncodeToString(sum[:]),
		SolidityVersion:  result.SolidityVersion,
	}

	s.publish(ctx, wf.WorkflowID, eventbus.TypeCompilationCompleted, map[string]any{
		"contract_name":    result.ContractName,
		"solidity_version": result.SolidityVersion,
	})
	return nil
}

func (s *CompilationStage) OnError(ctx context.Context, wf *Context, err error) {
	s.logger.Error("compilation stage failed", "workflow_id", wf.WorkflowID, "error", err)
}

func (s *CompilationStage) publish(ctx context.Context, workflowID string, t eventbus.Type, data any) {
	if s.bus == nil {
		return
	}
	evt, err := eventbus.NewEvent(t, workflowID, string(s.Name()), data)
	if err != nil {
		s.logger.Warn("failed to build event", "type", t, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish event", "type", t, "error", err)
	}
}
