package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainforge/contractforge/eventbus"
)

// testingTimeout bounds one test-runner invocation.
const testingTimeout = 120 * time.Second

// TestRunner executes a contract's test suite against its compiled
// artifact and reports pass/fail/skip counts and coverage.
type TestRunner interface {
	RunTests(ctx context.Context, contract *CompiledContract, source string) (*TestResult, error)
}

// TestingStage runs the configured test runner against the compiled
// contract. A failing suite is advisory by default; it only fails the
// workflow when strict testing was requested.
type TestingStage struct {
	runner TestRunner
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewTestingStage constructs a TestingStage. logger may be nil.
func NewTestingStage(runner TestRunner, bus *eventbus.Bus, logger *slog.Logger) *TestingStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestingStage{runner: runner, bus: bus, logger: logger}
}

func (s *TestingStage) Name() Name { return NameTesting }

func (s *TestingStage) Validate(_ context.Context, wf *Context) error {
	if wf.CompiledContract == nil {
		return NewError(s.Name(), KindValidation, fmt.Errorf("compiled contract is required"))
	}
	return nil
}

func (s *TestingStage) Process(ctx context.Context, wf *Context) error {
	s.publish(ctx, wf.WorkflowID, eventbus.TypeTestingStarted, nil)

	testCtx, cancel := context.WithTimeout(ctx, testingTimeout)
	defer cancel()

	result, err := s.runner.RunTests(testCtx, wf.CompiledContract, wf.ContractCode)
	if err != nil {
		wrapped := NewError(s.Name(), KindInternal, fmt.Errorf("run tests: %w", err))
		s.publish(ctx, wf.WorkflowID, eventbus.TypeTestingFailed, map[string]any{"error": err.Error()})
		if wf.StrictTesting {
			return wrapped
		}
		s.logger.Warn("test run failed, proceeding (strict testing not requested)", "workflow_id", wf.WorkflowID, "error", err)
		return nil
	}

	wf.TestResult = result

	if result.Failed > 0 && wf.StrictTesting {
		wrapped := NewError(s.Name(), KindInternal, fmt.Errorf("%d test(s) failed under strict testing", result.Failed))
		s.publish(ctx, wf.WorkflowID, eventbus.TypeTestingFailed, map[string]any{
			"passed": result.Passed, "failed": result.Failed, "skipped": result.Skipped,
		})
		return wrapped
	}

	s.publish(ctx, wf.WorkflowID, eventbus.TypeTestingCompleted, map[string]any{
		"passed": result.Passed, "failed": result.Failed, "skipped": result.Skipped,
		"coverage_percent": result.CoveragePercent,
	})
	return nil
}

func (s *TestingStage) OnError(ctx context.Context, wf *Context, err error) {
	s.logger.Error("testing stage failed", "workflow_id", wf.WorkflowID, "error", err)
}

func (s *TestingStage) publish(ctx context.Context, workflowID string, t eventbus.Type, data any) {
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
