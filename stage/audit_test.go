package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/chainforge/contractforge/audittools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	result audittools.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _ audittools.Level, _ audittools.Input) (audittools.Result, error) {
	return f.result, f.err
}

func TestAuditStage_Validate_RequiresCompiledContract(t *testing.T) {
	s := NewAuditStage(&fakeRunner{}, nil, nil)
	err := s.Validate(context.Background(), &Context{})
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestAuditStage_Process_ComputesRiskAndStatus(t *testing.T) {
	runner := &fakeRunner{result: audittools.Result{
		Findings: []audittools.Finding{
			{Tool: "static_analyzer", Severity: audittools.SeverityCritical, Title: "reentrancy", Location: "Contract.sol:12"},
			{Tool: "symbolic_executor", Severity: audittools.SeverityLow, Title: "style", Location: "Contract.sol:3"},
		},
	}}
	s := NewAuditStage(runner, nil, nil)
	wf := &Context{CompiledContract: &CompiledContract{ContractName: "Token"}}

	err := s.Process(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, float64(26), wf.AuditRiskScore)
	assert.Equal(t, "passed", wf.AuditStatus)
	assert.Len(t, wf.AuditFindings, 2)
}

func TestAuditStage_Process_PassedBelowThreshold(t *testing.T) {
	runner := &fakeRunner{result: audittools.Result{
		Findings: []audittools.Finding{
			{Tool: "static_analyzer", Severity: audittools.SeverityLow, Title: "style", Location: "Contract.sol:3"},
		},
	}}
	s := NewAuditStage(runner, nil, nil)
	wf := &Context{CompiledContract: &CompiledContract{ContractName: "Token"}}

	err := s.Process(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, "passed", wf.AuditStatus)
}

func TestAuditStage_Process_AllToolsFailedReturnsStageError(t *testing.T) {
	runner := &fakeRunner{err: audittools.ErrAllToolsFailed}
	s := NewAuditStage(runner, nil, nil)
	wf := &Context{CompiledContract: &CompiledContract{ContractName: "Token"}}

	err := s.Process(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, KindAuditTool, KindOf(err))
	assert.True(t, errors.Is(err, audittools.ErrAllToolsFailed))
}
