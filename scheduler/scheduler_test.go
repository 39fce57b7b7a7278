package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNonces struct {
	counter atomic.Uint64
}

func (f *fakeNonces) Next(_ context.Context, _, _ string) (uint64, error) {
	return f.counter.Add(1) - 1, nil
}

type fakeDeployer struct {
	failNames map[string]bool
}

func (f *fakeDeployer) Deploy(_ context.Context, req DeployRequest) (*DeployResult, error) {
	if f.failNames[req.Contract.ContractName] {
		return nil, fmt.Errorf("deployment reverted")
	}
	return &DeployResult{Address: "0x" + req.Contract.ContractName, Nonce: req.Nonce}, nil
}

func TestScheduler_Run_DeploysAllLayersOnSuccess(t *testing.T) {
	contracts := []ContractInput{
		{ContractName: "Token", SourceCode: "contract Token {}"},
		{ContractName: "Vault", SourceCode: `import "./Token.sol"; contract Vault {}`},
	}
	s := New(&fakeDeployer{}, &fakeNonces{}, nil)
	result := s.Run(context.Background(), "hyperion_testnet", "0xdeployer", "0xkey", contracts, 4)

	require.Equal(t, 2, result.BatchesDeployed)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
}

func TestScheduler_Run_FailureAbortsLaterLayers(t *testing.T) {
	contracts := []ContractInput{
		{ContractName: "Token", SourceCode: "contract Token {}"},
		{ContractName: "Vault", SourceCode: `import "./Token.sol"; contract Vault {}`},
	}
	s := New(&fakeDeployer{failNames: map[string]bool{"Token": true}}, &fakeNonces{}, nil)
	result := s.Run(context.Background(), "hyperion_testnet", "0xdeployer", "0xkey", contracts, 4)

	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 2, result.FailedCount)
	for _, d := range result.Deployments {
		if d.ContractName == "Vault" {
			assert.Contains(t, d.Error, "skipped")
		}
	}
}

func TestScheduler_Run_CycleFallsBackSequentially(t *testing.T) {
	contracts := []ContractInput{
		{ContractName: "A", Dependencies: []string{"B"}},
		{ContractName: "B", Dependencies: []string{"A"}},
	}
	s := New(&fakeDeployer{}, &fakeNonces{}, nil)
	result := s.Run(context.Background(), "hyperion_testnet", "0xdeployer", "0xkey", contracts, 4)

	assert.Equal(t, 2, result.BatchesDeployed)
	assert.Equal(t, 2, result.SuccessCount)
}
