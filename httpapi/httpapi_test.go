package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/scheduler"
	"github.com/chainforge/contractforge/storage"
)

type fakeCoordinator struct {
	createResult *CreateResult
	createErr    error
	workflow     *storage.Workflow
	statusErr    error
	cancelErr    error
}

func (f *fakeCoordinator) Create(context.Context, CreateRequest) (*CreateResult, error) {
	return f.createResult, f.createErr
}

func (f *fakeCoordinator) Cancel(context.Context, string) error { return f.cancelErr }

func (f *fakeCoordinator) Status(context.Context, string) (*storage.Workflow, error) {
	return f.workflow, f.statusErr
}

func (f *fakeCoordinator) Contracts(context.Context, string) ([]*storage.GeneratedContract, error) {
	return nil, nil
}

func (f *fakeCoordinator) Deployments(context.Context, string) ([]*storage.DeploymentRecord, error) {
	return nil, nil
}

type fakeBatchScheduler struct {
	result *scheduler.Result
}

func (f *fakeBatchScheduler) Run(context.Context, string, string, string, []scheduler.ContractInput, int) *scheduler.Result {
	return f.result
}

func TestHandleCreateWorkflow(t *testing.T) {
	coord := &fakeCoordinator{createResult: &CreateResult{
		WorkflowID: "wf-1",
		FeaturesUsed: map[network.Feature]bool{
			network.FeatureMetisVM: true,
		},
	}}
	srv := New(coord, nil, network.NewDefaultRegistry(), nil, nil, nil)

	body, err := json.Marshal(generateRequestBody{
		NLPInput: "Create an ERC20 token",
		Network:  network.HyperionTestnet,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workflows/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "wf-1", resp["workflow_id"])
}

func TestHandleCreateWorkflowRejectsMissingFields(t *testing.T) {
	srv := New(&fakeCoordinator{}, nil, network.NewDefaultRegistry(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/workflows/generate", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWorkflowStatusNotFound(t *testing.T) {
	coord := &fakeCoordinator{statusErr: storage.ErrNotFound}
	srv := New(coord, nil, network.NewDefaultRegistry(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/workflows/missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWorkflowStatus(t *testing.T) {
	coord := &fakeCoordinator{workflow: &storage.Workflow{ID: "wf-1", Status: storage.WorkflowStatusCompleted}}
	srv := New(coord, nil, network.NewDefaultRegistry(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/workflows/wf-1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var wf storage.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	assert.Equal(t, storage.WorkflowStatusCompleted, wf.Status)
}

func TestHandleBatchDeployUnconfigured(t *testing.T) {
	srv := New(&fakeCoordinator{}, nil, network.NewDefaultRegistry(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/deployments/batch", bytes.NewReader([]byte(`{"network":"hyperion_testnet","contracts":[{"contract_name":"Token"}]}`)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleBatchDeploy(t *testing.T) {
	sched := &fakeBatchScheduler{result: &scheduler.Result{SuccessCount: 2, BatchesDeployed: 1}}
	srv := New(&fakeCoordinator{}, sched, network.NewDefaultRegistry(), nil, nil, nil)

	body := `{"network":"hyperion_testnet","deployer":"0xabc","contracts":[{"contract_name":"Token"},{"contract_name":"Vault"}]}`
	req := httptest.NewRequest(http.MethodPost, "/deployments/batch", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var result scheduler.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.SuccessCount)
}

func TestHandleListNetworks(t *testing.T) {
	srv := New(&fakeCoordinator{}, nil, network.NewDefaultRegistry(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/networks", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out)
}

func TestHandleNetworkFeaturesUnknownNetwork(t *testing.T) {
	srv := New(&fakeCoordinator{}, nil, network.NewDefaultRegistry(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/networks/does_not_exist/features", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeHealthChecker struct{ err error }

func (f fakeHealthChecker) Check(context.Context) error { return f.err }

func TestHandleHealthDetailed(t *testing.T) {
	health := map[string]HealthChecker{
		"storage": fakeHealthChecker{},
		"eventbus": fakeHealthChecker{err: assert.AnError},
	}
	srv := New(&fakeCoordinator{}, nil, network.NewDefaultRegistry(), nil, health, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
