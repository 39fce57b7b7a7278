package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chainforge/contractforge/audittools"
	"github.com/chainforge/contractforge/eventbus"
)

// ToolRunner is the subset of audittools.Runner the stage needs.
type ToolRunner interface {
	Run(ctx context.Context, level audittools.Level, input audittools.Input) (audittools.Result, error)
}

// risk weights, per spec.md §4.4.3's scoring table, capped at 100.
const (
	riskWeightCritical = 25
	riskWeightHigh     = 15
	riskWeightMedium   = 5
	riskWeightLow      = 1
	riskScoreCap       = 100

	riskStatusPassedBelow  = 30
	riskStatusWarningBelow = 70
)

// AuditStage runs the static analyzer, symbolic executor, and fuzzer
// against the compiled contract and its source, producing an advisory
// risk assessment. Individual tool failures are tolerated; the stage only
// fails if every tool fails.
type AuditStage struct {
	runner ToolRunner
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewAuditStage constructs an AuditStage. logger may be nil.
func NewAuditStage(runner ToolRunner, bus *eventbus.Bus, logger *slog.Logger) *AuditStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditStage{runner: runner, bus: bus, logger: logger}
}

func (s *AuditStage) Name() Name { return NameAudit }

func (s *AuditStage) Validate(_ context.Context, wf *Context) error {
	if wf.CompiledContract == nil {
		return NewError(s.Name(), KindValidation, fmt.Errorf("compiled contract is required"))
	}
	return nil
}

func (s *AuditStage) Process(ctx context.Context, wf *Context) error {
	s.publish(ctx, wf.WorkflowID, eventbus.TypeAuditStarted, nil)

	level := auditLevel(wf.AuditLevel)
	input := audittools.Input{
		SourceCode: wf.ContractCode,
		Bytecode:   wf.CompiledContract.DeployedBytecode,
	}

	result, err := s.runner.Run(ctx, level, input)
	if err != nil {
		wrapped := NewError(s.Name(), KindAuditTool, err)
		s.publish(ctx, wf.WorkflowID, eventbus.TypeAuditFailed, map[string]any{"error": err.Error()})
		return wrapped
	}

	findings := make([]Finding, 0, len(result.Findings))
	for _, f := range result.Findings {
		findings = append(findings, Finding{
			Tool:        f.Tool,
			Severity:    FindingSeverity(f.Severity),
			Title:       f.Title,
			Description: f.Description,
			Location:    f.Location,
		})
	}

	wf.AuditFindings = findings
	wf.AuditToolErrs = result.ToolErrors
	wf.AuditRiskScore = riskScore(findings)
	wf.AuditStatus = riskStatus(wf.AuditRiskScore)

	s.publish(ctx, wf.WorkflowID, eventbus.TypeAuditCompleted, map[string]any{
		"risk_score":    wf.AuditRiskScore,
		"status":        wf.AuditStatus,
		"finding_count": len(findings),
	})
	return nil
}

func (s *AuditStage) OnError(ctx context.Context, wf *Context, err error) {
	s.logger.Error("audit stage failed", "workflow_id", wf.WorkflowID, "error", err)
}

func (s *AuditStage) publish(ctx context.Context, workflowID string, t eventbus.Type, data any) {
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

// auditLevel maps the workflow's requested audit_level string onto the
// audittools depth enum, defaulting to standard when unset or unrecognized.
func auditLevel(requested string) audittools.Level {
	switch requested {
	case "basic":
		return audittools.LevelBasic
	case "comprehensive":
		return audittools.LevelComprehensive
	default:
		return audittools.LevelStandard
	}
}

// riskScore sums severity-weighted points across every finding, deduplicated
// by the runner, and caps the total at 100 per spec.md §4.4.3.
func riskScore(findings []Finding) float64 {
	var total int
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			total += riskWeightCritical
		case SeverityHigh:
			total += riskWeightHigh
		case SeverityMedium:
			total += riskWeightMedium
		case SeverityLow:
			total += riskWeightLow
		}
	}
	if total > riskScoreCap {
		total = riskScoreCap
	}
	return float64(total)
}

// riskStatus derives the advisory pass/warn/fail bucket from the risk score.
func riskStatus(score float64) string {
	switch {
	case score < riskStatusPassedBelow:
		return "passed"
	case score < riskStatusWarningBelow:
		return "warning"
	default:
		return "failed"
	}
}
