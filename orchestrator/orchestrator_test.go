package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/contractforge/stage"
	"github.com/chainforge/contractforge/storage"
)

// fakeStage is a minimal stage.Stage the orchestrator tests drive directly,
// avoiding a dependency on the real stage implementations' external
// collaborators (LLM, compiler, RPC clients).
type fakeStage struct {
	name      stage.Name
	validate  func(*stage.Context) error
	process   func(*stage.Context) error
	processed int
}

func (f *fakeStage) Name() stage.Name { return f.name }

func (f *fakeStage) Validate(_ context.Context, wf *stage.Context) error {
	if f.validate != nil {
		return f.validate(wf)
	}
	return nil
}

func (f *fakeStage) Process(_ context.Context, wf *stage.Context) error {
	f.processed++
	if f.process != nil {
		return f.process(wf)
	}
	return nil
}

func (f *fakeStage) OnError(context.Context, *stage.Context, error) {}

// fakeStore is an in-memory Store for orchestrator tests.
type fakeStore struct {
	mu        sync.Mutex
	workflows map[string]*storage.Workflow
	contracts []*storage.GeneratedContract
	audits    []*storage.AuditRecord
	deploys   []*storage.DeploymentRecord
}

func newFakeStore(workflowID string) *fakeStore {
	return &fakeStore{
		workflows: map[string]*storage.Workflow{
			workflowID: {ID: workflowID, Status: storage.WorkflowStatusCreated, Progress: 0},
		},
	}
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*storage.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeStore) UpdateWorkflowStatus(_ context.Context, id string, status storage.WorkflowStatus, st storage.StageName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return storage.ErrNotFound
	}
	wf.Status = status
	wf.CurrentStage = st
	return nil
}

func (f *fakeStore) UpdateWorkflowProgress(_ context.Context, id string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return storage.ErrNotFound
	}
	wf.Progress = progress
	return nil
}

func (f *fakeStore) CompleteWorkflow(_ context.Context, id string, status storage.WorkflowStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return storage.ErrNotFound
	}
	wf.Status = status
	wf.Error = errMsg
	return nil
}

func (f *fakeStore) CreateContract(_ context.Context, c *storage.GeneratedContract) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = "contract-1"
	f.contracts = append(f.contracts, c)
	return c.ID, nil
}

func (f *fakeStore) SetContractCompilationResult(context.Context, string, []byte, string, string, string) error {
	return nil
}

func (f *fakeStore) CreateAuditRecord(_ context.Context, a *storage.AuditRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, a)
	return "audit-1", nil
}

func (f *fakeStore) CreateDeploymentRecord(_ context.Context, d *storage.DeploymentRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploys = append(f.deploys, d)
	return "deploy-1", nil
}

func (f *fakeStore) SetDeploymentReceipt(context.Context, string, uint64, uint64) error { return nil }
func (f *fakeStore) SetDeploymentEigenDACommitment(context.Context, string, string) error {
	return nil
}

func (f *fakeStore) requestCancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[id].CancelRequested = true
}

func newRegistry(stages ...*fakeStage) *stage.ServiceRegistry {
	r := stage.NewServiceRegistry()
	for _, s := range stages {
		r.Register(s)
	}
	return r
}

func TestOrchestratorHappyPath(t *testing.T) {
	gen := &fakeStage{name: stage.NameGeneration, process: func(wf *stage.Context) error {
		wf.ContractCode = "pragma solidity 0.8.27;\ncontract MyToken {}"
		return nil
	}}
	compile := &fakeStage{name: stage.NameCompilation, process: func(wf *stage.Context) error {
		wf.CompiledContract = &stage.CompiledContract{ContractName: "MyToken", SolidityVersion: "0.8.27", Bytecode: "0x60"}
		return nil
	}}
	audit := &fakeStage{name: stage.NameAudit, process: func(wf *stage.Context) error {
		wf.AuditStatus = string(storage.AuditStatusPassed)
		wf.AuditRiskScore = 5
		return nil
	}}
	test := &fakeStage{name: stage.NameTesting, process: func(wf *stage.Context) error {
		wf.TestResult = &stage.TestResult{Passed: 10}
		return nil
	}}
	deploy := &fakeStage{name: stage.NameDeployment, process: func(wf *stage.Context) error {
		wf.DeploymentResult = &stage.DeploymentResult{Address: "0xdeadbeef", TxHash: "0xabc"}
		return nil
	}}

	registry := newRegistry(gen, compile, audit, test, deploy)
	store := newFakeStore("wf-1")

	o := New(registry, store, nil, StagePolicy{}, nil)
	err := o.Run(context.Background(), &stage.Context{WorkflowID: "wf-1", NLPDescription: "Create an ERC20 token"})
	require.NoError(t, err)

	wf, _ := store.GetWorkflow(context.Background(), "wf-1")
	assert.Equal(t, storage.WorkflowStatusCompleted, wf.Status)
	assert.Equal(t, 100, wf.Progress)
	require.Len(t, store.contracts, 1)
	assert.Equal(t, "MyToken", store.contracts[0].Name)
	require.Len(t, store.deploys, 1)
	assert.Equal(t, "0xdeadbeef", store.deploys[0].Address)
	assert.Equal(t, 1, gen.processed)
	assert.Equal(t, 1, deploy.processed)
}

func TestOrchestratorFatalStageStopsPipeline(t *testing.T) {
	gen := &fakeStage{name: stage.NameGeneration}
	compile := &fakeStage{name: stage.NameCompilation, process: func(*stage.Context) error {
		return stage.NewError(stage.NameCompilation, stage.KindCompilation, assert.AnError)
	}}
	deploy := &fakeStage{name: stage.NameDeployment}

	registry := newRegistry(gen, compile, deploy)
	store := newFakeStore("wf-2")

	o := New(registry, store, nil, StagePolicy{}, nil)
	err := o.Run(context.Background(), &stage.Context{WorkflowID: "wf-2"})
	require.Error(t, err)

	wf, _ := store.GetWorkflow(context.Background(), "wf-2")
	assert.Equal(t, storage.WorkflowStatusFailed, wf.Status)
	assert.NotEmpty(t, wf.Error)
	assert.Equal(t, 0, deploy.processed, "pipeline must stop after a fatal stage")
}

func TestOrchestratorAdvisoryAuditFailureContinues(t *testing.T) {
	gen := &fakeStage{name: stage.NameGeneration}
	compile := &fakeStage{name: stage.NameCompilation, process: func(wf *stage.Context) error {
		wf.CompiledContract = &stage.CompiledContract{ContractName: "X"}
		return nil
	}}
	audit := &fakeStage{name: stage.NameAudit, process: func(*stage.Context) error {
		return stage.NewError(stage.NameAudit, stage.KindAuditTool, assert.AnError)
	}}
	deploy := &fakeStage{name: stage.NameDeployment}

	registry := newRegistry(gen, compile, audit, deploy)
	store := newFakeStore("wf-3")

	o := New(registry, store, nil, StagePolicy{}, nil)
	err := o.Run(context.Background(), &stage.Context{WorkflowID: "wf-3"})
	require.NoError(t, err)

	wf, _ := store.GetWorkflow(context.Background(), "wf-3")
	assert.Equal(t, storage.WorkflowStatusCompleted, wf.Status)
	assert.Equal(t, 1, deploy.processed, "advisory audit failure must not stop the pipeline")
}

func TestOrchestratorFatalOnAuditPolicy(t *testing.T) {
	gen := &fakeStage{name: stage.NameGeneration}
	audit := &fakeStage{name: stage.NameAudit, process: func(*stage.Context) error {
		return stage.NewError(stage.NameAudit, stage.KindAuditTool, assert.AnError)
	}}
	deploy := &fakeStage{name: stage.NameDeployment}

	registry := newRegistry(gen, audit, deploy)
	store := newFakeStore("wf-4")

	o := New(registry, store, nil, StagePolicy{FatalOnAudit: true}, nil)
	err := o.Run(context.Background(), &stage.Context{WorkflowID: "wf-4"})
	require.Error(t, err)

	wf, _ := store.GetWorkflow(context.Background(), "wf-4")
	assert.Equal(t, storage.WorkflowStatusFailed, wf.Status)
	assert.Equal(t, 0, deploy.processed)
}

func TestOrchestratorCancellationAtStageBoundary(t *testing.T) {
	var store *fakeStore
	gen := &fakeStage{name: stage.NameGeneration, process: func(*stage.Context) error {
		store.requestCancel("wf-5")
		return nil
	}}
	compile := &fakeStage{name: stage.NameCompilation}
	deploy := &fakeStage{name: stage.NameDeployment}

	registry := newRegistry(gen, compile, deploy)
	store = newFakeStore("wf-5")

	o := New(registry, store, nil, StagePolicy{}, nil)
	err := o.Run(context.Background(), &stage.Context{WorkflowID: "wf-5"})
	require.Error(t, err)

	wf, _ := store.GetWorkflow(context.Background(), "wf-5")
	assert.Equal(t, storage.WorkflowStatusCancelled, wf.Status)
	assert.Equal(t, 0, compile.processed, "cancellation must be observed at the next stage boundary")
	assert.Equal(t, 0, deploy.processed)
}
