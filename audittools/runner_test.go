package audittools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name     string
	findings []Finding
	err      error
	called   bool
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Run(_ context.Context, _ string, _ Input) ([]Finding, error) {
	f.called = true
	return f.findings, f.err
}

func TestRunner_DeduplicatesAcrossTools(t *testing.T) {
	dup := Finding{Tool: "a", Severity: SeverityHigh, Title: "reentrancy", Location: "Contract.sol:10"}
	static := &fakeTool{name: "static_analyzer", findings: []Finding{dup}}
	symbolic := &fakeTool{name: "symbolic_executor", findings: []Finding{
		{Tool: "b", Severity: SeverityHigh, Title: "reentrancy", Location: "Contract.sol:10"},
		{Tool: "b", Severity: SeverityLow, Title: "unused variable", Location: "Contract.sol:42"},
	}}
	fuzzer := &fakeTool{name: "fuzzer"}

	r := NewRunner(static, symbolic, fuzzer, nil)
	result, err := r.Run(context.Background(), LevelStandard, Input{SourceCode: "contract C {}"})
	require.NoError(t, err)
	assert.Len(t, result.Findings, 2)
}

func TestRunner_FuzzerSkippedBelowComprehensive(t *testing.T) {
	fuzzer := &fakeTool{name: "fuzzer"}
	r := NewRunner(&fakeTool{name: "static_analyzer"}, &fakeTool{name: "symbolic_executor"}, fuzzer, nil)

	_, err := r.Run(context.Background(), LevelStandard, Input{SourceCode: "contract C {}"})
	require.NoError(t, err)
	assert.False(t, fuzzer.called, "fuzzer should not be invoked below comprehensive level")
}

func TestRunner_AllToolsFailedReturnsError(t *testing.T) {
	r := NewRunner(
		&fakeTool{name: "static_analyzer", err: errors.New("boom")},
		&fakeTool{name: "symbolic_executor", err: errors.New("boom")},
		&fakeTool{name: "fuzzer", err: errors.New("boom")},
		nil,
	)

	result, err := r.Run(context.Background(), LevelComprehensive, Input{SourceCode: "contract C {}"})
	require.ErrorIs(t, err, ErrAllToolsFailed)
	assert.Len(t, result.ToolErrors, 3)
}

func TestRunner_PartialFailureStillReturnsFindings(t *testing.T) {
	r := NewRunner(
		&fakeTool{name: "static_analyzer", findings: []Finding{{Title: "x", Severity: SeverityLow, Location: "l"}}},
		&fakeTool{name: "symbolic_executor", err: errors.New("timed out")},
		&fakeTool{name: "fuzzer"},
		nil,
	)

	result, err := r.Run(context.Background(), LevelStandard, Input{SourceCode: "contract C {}"})
	require.NoError(t, err)
	assert.Len(t, result.Findings, 1)
	assert.Len(t, result.ToolErrors, 1)
}
