package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/contractforge/config"
	"github.com/chainforge/contractforge/coordinator"
)

func TestNewApp(t *testing.T) {
	cfg := config.DefaultConfig()

	app, err := NewApp(cfg, nil)
	require.NoError(t, err)
	assert.Same(t, cfg, app.cfg)
	assert.NotNil(t, app.logger)

	// Start dials external systems (Postgres, NATS) and is exercised by
	// integration tests, not here.
	assert.Nil(t, app.store)
	assert.Nil(t, app.coordinator)
}

func TestBuildRequest(t *testing.T) {
	req := buildRequest("an ERC20 token", "hyperion_testnet", "erc20", "standard", "0xabc")

	assert.Equal(t, coordinator.Request{
		NLPDescription:  "an ERC20 token",
		Network:         "hyperion_testnet",
		ContractType:    "erc20",
		AuditLevel:      "standard",
		DeployerAddress: "0xabc",
	}, req)
}
