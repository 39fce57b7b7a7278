// Package audittools wraps the static analyzer, symbolic executor, and
// fuzzer as isolated subprocesses, fanned out in parallel with a
// per-working-directory sandbox, per spec.md §4.4.3 and §9 ("always run
// with a working directory isolated per call, with explicit argument
// arrays ... and an absolute path to the binary").
package audittools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// Level is the requested audit depth, gating which tools run.
type Level string

const (
	LevelBasic         Level = "basic"
	LevelStandard      Level = "standard"
	LevelComprehensive Level = "comprehensive"
)

func levelRank(l Level) int {
	switch l {
	case LevelComprehensive:
		return 2
	case LevelStandard:
		return 1
	default:
		return 0
	}
}

// Severity classifies a finding's risk, mirroring stage.FindingSeverity so
// the Audit stage can copy results across without a lossy conversion.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Finding is a single issue reported by one tool.
type Finding struct {
	Tool        string
	Severity    Severity
	Title       string
	Description string
	Location    string
}

// Input carries everything a tool might need; each tool reads only the
// field its column in spec.md's table calls for (source file or bytecode).
type Input struct {
	SourceCode string
	Bytecode   string
}

// Tool is one audit subprocess wrapper.
type Tool interface {
	Name() string
	Run(ctx context.Context, workdir string, input Input) ([]Finding, error)
}

// toolEntry binds a Tool to the minimum audit level that activates it and
// its own timeout, per spec.md §4.4.3's table.
type toolEntry struct {
	tool     Tool
	minLevel Level
	timeout  time.Duration
}

// Runner fans audit tools out in parallel, each in its own working
// directory, and aggregates their findings.
type Runner struct {
	tools  []toolEntry
	logger *slog.Logger
}

// NewRunner builds the default tool chain: a static analyzer and symbolic
// executor at standard level, a fuzzer at comprehensive level, matching
// the timeouts in spec.md §4.4.3.
func NewRunner(static, symbolic, fuzzer Tool, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger,
		tools: []toolEntry{
			{tool: static, minLevel: LevelStandard, timeout: 120 * time.Second},
			{tool: symbolic, minLevel: LevelStandard, timeout: 180 * time.Second},
			{tool: fuzzer, minLevel: LevelComprehensive, timeout: 300 * time.Second},
		},
	}
}

// Result is the aggregated, deduplicated outcome of one Run.
type Result struct {
	Findings   []Finding
	ToolErrors []string // "<tool>: <reason>" for each tool that errored or timed out
}

// ErrAllToolsFailed is returned when every tool activated for level failed;
// per spec.md §4.4.3, individual tool failures are otherwise non-fatal.
var ErrAllToolsFailed = fmt.Errorf("all audit tools failed")

// Run executes every tool activated for level concurrently, each in its
// own temp working directory, deduplicates findings by (title, severity,
// location), and returns ErrAllToolsFailed only if none of the activated
// tools produced a result.
func (r *Runner) Run(ctx context.Context, level Level, input Input) (Result, error) {
	active := make([]toolEntry, 0, len(r.tools))
	for _, te := range r.tools {
		if te.tool == nil {
			continue
		}
		if levelRank(level) >= levelRank(te.minLevel) {
			active = append(active, te)
		}
	}
	if len(active) == 0 {
		return Result{}, nil
	}

	type outcome struct {
		findings []Finding
		err      error
		name     string
	}
	outcomes := make([]outcome, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, te := range active {
		i, te := i, te
		g.Go(func() error {
			workdir, err := os.MkdirTemp("", "contractforge-audit-"+te.tool.Name()+"-")
			if err != nil {
				outcomes[i] = outcome{name: te.tool.Name(), err: fmt.Errorf("create workdir: %w", err)}
				return nil
			}
			defer os.RemoveAll(workdir)

			toolCtx, cancel := context.WithTimeout(gctx, te.timeout)
			defer cancel()

			findings, err := te.tool.Run(toolCtx, workdir, input)
			outcomes[i] = outcome{name: te.tool.Name(), findings: findings, err: err}
			return nil
		})
	}
	// errgroup.Wait's error is unused: every goroutine records its own
	// outcome rather than returning an error, since one tool crashing
	// must not cancel its siblings' context-independent results.
	_ = g.Wait()

	var result Result
	seen := make(map[string]bool)
	successCount := 0
	for _, o := range outcomes {
		if o.err != nil {
			r.logger.Warn("audit tool failed", "tool", o.name, "error", o.err)
			result.ToolErrors = append(result.ToolErrors, fmt.Sprintf("%s: %s", o.name, o.err.Error()))
			continue
		}
		successCount++
		for _, f := range o.findings {
			key := f.Title + "|" + string(f.Severity) + "|" + f.Location
			if seen[key] {
				continue
			}
			seen[key] = true
			result.Findings = append(result.Findings, f)
		}
	}

	if successCount == 0 {
		return result, ErrAllToolsFailed
	}
	return result, nil
}
