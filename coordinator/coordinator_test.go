package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/stage"
	"github.com/chainforge/contractforge/storage"
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	ran     []*stage.Context
	block   chan struct{}
	returns error
}

func (f *fakeOrchestrator) Run(_ context.Context, wfCtx *stage.Context) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.ran = append(f.ran, wfCtx)
	f.mu.Unlock()
	return f.returns
}

func (f *fakeOrchestrator) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

type fakeCoordinatorStore struct {
	mu        sync.Mutex
	workflows map[string]*storage.Workflow
	features  map[string]map[string]bool
	warnings  map[string][]string
	nextID    int
}

func newFakeCoordinatorStore() *fakeCoordinatorStore {
	return &fakeCoordinatorStore{
		workflows: make(map[string]*storage.Workflow),
		features:  make(map[string]map[string]bool),
		warnings:  make(map[string][]string),
	}
}

func (f *fakeCoordinatorStore) CreateWorkflow(_ context.Context, w *storage.Workflow) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "wf-" + time.Now().Format("150405") + "-" + string(rune('a'+f.nextID))
	cp := *w
	cp.ID = id
	f.workflows[id] = &cp
	return id, nil
}

func (f *fakeCoordinatorStore) GetWorkflow(_ context.Context, id string) (*storage.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeCoordinatorStore) RequestWorkflowCancellation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return storage.ErrNotFound
	}
	wf.CancelRequested = true
	return nil
}

func (f *fakeCoordinatorStore) SetWorkflowFeaturesUsed(_ context.Context, id string, features map[string]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.features[id] = features
	return nil
}

func (f *fakeCoordinatorStore) AppendWorkflowWarning(_ context.Context, id, warning string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings[id] = append(f.warnings[id], warning)
	return nil
}

func (f *fakeCoordinatorStore) ListContractsByWorkflow(context.Context, string) ([]*storage.GeneratedContract, error) {
	return nil, nil
}

func (f *fakeCoordinatorStore) ListDeploymentsByWorkflow(context.Context, string) ([]*storage.DeploymentRecord, error) {
	return nil, nil
}

func TestCoordinatorCreateDispatchesAndReturnsImmediately(t *testing.T) {
	orch := &fakeOrchestrator{block: make(chan struct{})}
	store := newFakeCoordinatorStore()
	networks := network.NewDefaultRegistry()

	c := New(orch, store, networks, nil, nil)
	result, err := c.Create(context.Background(), Request{
		NLPDescription: "Create an ERC20 token named MyToken",
		Network:        network.HyperionTestnet,
		ContractType:   "ERC20",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.WorkflowID)
	assert.Empty(t, result.Warnings, "Hyperion testnet supports every requested feature by default")

	wf, err := c.Status(context.Background(), result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, storage.WorkflowStatusCreated, wf.Status)

	close(orch.block)
	c.Shutdown()
	assert.Equal(t, 1, orch.runCount())
}

func TestCoordinatorUnavailableFeatureProducesWarningAndDisables(t *testing.T) {
	orch := &fakeOrchestrator{}
	store := newFakeCoordinatorStore()
	networks := network.NewDefaultRegistry()

	c := New(orch, store, networks, nil, nil)
	result, err := c.Create(context.Background(), Request{
		NLPDescription:      "Create an ERC20 token",
		Network:             network.MantleTestnet,
		OptimizeForMetisVM:  true,
		EnableFloatingPoint: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Warnings)
	assert.False(t, result.FeaturesUsed[network.FeatureMetisVM])
	assert.False(t, result.FeaturesUsed[network.FeatureFloatingPoint])

	c.Shutdown()
}

func TestCoordinatorCancel(t *testing.T) {
	orch := &fakeOrchestrator{block: make(chan struct{})}
	store := newFakeCoordinatorStore()
	networks := network.NewDefaultRegistry()

	c := New(orch, store, networks, nil, nil)
	result, err := c.Create(context.Background(), Request{NLPDescription: "x", Network: network.HyperionTestnet})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), result.WorkflowID))
	wf, err := c.Status(context.Background(), result.WorkflowID)
	require.NoError(t, err)
	assert.True(t, wf.CancelRequested)

	close(orch.block)
	c.Shutdown()
}
