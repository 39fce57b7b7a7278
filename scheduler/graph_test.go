package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLayers_OrdersByImportDependency(t *testing.T) {
	contracts := []ContractInput{
		{ContractName: "Token", SourceCode: "contract Token {}"},
		{ContractName: "Vault", SourceCode: `import "./Token.sol"; contract Vault {}`},
	}
	result := buildLayers(contracts)
	require.True(t, result.ok)
	require.Len(t, result.layers, 2)
	assert.Equal(t, "Token", result.layers[0][0].ContractName)
	assert.Equal(t, "Vault", result.layers[1][0].ContractName)
}

func TestBuildLayers_IndependentContractsShareALayer(t *testing.T) {
	contracts := []ContractInput{
		{ContractName: "A", SourceCode: "contract A {}"},
		{ContractName: "B", SourceCode: "contract B {}"},
	}
	result := buildLayers(contracts)
	require.True(t, result.ok)
	require.Len(t, result.layers, 1)
	assert.Len(t, result.layers[0], 2)
}

func TestBuildLayers_DetectsCycle(t *testing.T) {
	contracts := []ContractInput{
		{ContractName: "A", Dependencies: []string{"B"}},
		{ContractName: "B", Dependencies: []string{"A"}},
	}
	result := buildLayers(contracts)
	assert.False(t, result.ok)
}

func TestBuildLayers_ExplicitDependenciesHonored(t *testing.T) {
	contracts := []ContractInput{
		{ContractName: "Base"},
		{ContractName: "Derived", Dependencies: []string{"Base"}},
	}
	result := buildLayers(contracts)
	require.True(t, result.ok)
	require.Len(t, result.layers, 2)
	assert.Equal(t, "Base", result.layers[0][0].ContractName)
}

func TestParseImports_StripsPathAndExtension(t *testing.T) {
	names := parseImports(`import "./lib/Token.sol"; import {X} from "../Vault.sol";`)
	assert.ElementsMatch(t, []string{"Token", "Vault"}, names)
}
