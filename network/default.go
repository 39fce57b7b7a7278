package network

// Wire-stable network identifiers, per the external HTTP/event contract.
// Custom networks may be registered alongside these at runtime.
const (
	HyperionTestnet = "hyperion_testnet"
	HyperionMainnet = "hyperion_mainnet"
	MantleTestnet   = "mantle_testnet"
	MantleMainnet   = "mantle_mainnet"
)

// NewDefaultRegistry returns a registry seeded with the built-in catalog:
// the Hyperion family (MetisVM-capable, PEF-capable) and the Mantle family
// (plain EVM, no MetisVM/PEF), matching the wire-stable chain ids in the
// external interface contract.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	hyperionFeatures := map[Feature]bool{
		FeaturePEF:             true,
		FeatureMetisVM:         true,
		FeatureEigenDA:         true,
		FeatureBatchDeployment: true,
		FeatureFloatingPoint:   true,
		FeatureAIInference:     true,
	}

	r.Register(HyperionTestnet, &NetworkConfig{
		ChainID:     133717,
		RPCEndpoint: "https://hyperion-testnet.metisdevops.link",
		Explorer:    "https://hyperion-testnet-explorer.metisdevops.link",
		Features:    cloneFeatures(hyperionFeatures),
	})

	r.Register(HyperionMainnet, &NetworkConfig{
		ChainID:     133718,
		RPCEndpoint: "https://hyperion.metis.io",
		Explorer:    "https://hyperion-explorer.metis.io",
		Features:    cloneFeatures(hyperionFeatures),
	})

	mantleFallbacks := map[Feature]string{
		FeatureMetisVM:         "MetisVM is a Metis/Hyperion-only VM extension; Mantle runs stock EVM, so MetisVM pragmas are omitted",
		FeaturePEF:             "Mantle has no parallel execution framework; batch deployments fall back to sequential, in-order submission",
		FeatureBatchDeployment: "Mantle has no parallel execution framework; batch deployments fall back to sequential, in-order submission",
		FeatureFloatingPoint:   "floating-point pragmas require MetisVM, which Mantle does not run",
		FeatureAIInference:     "AI-quantization pragmas require MetisVM, which Mantle does not run",
		FeatureEigenDA:         "EigenDA is not wired for Mantle in this deployment; deployment metadata is not archived off-chain",
	}

	r.Register(MantleTestnet, &NetworkConfig{
		ChainID:     5003,
		RPCEndpoint: "https://rpc.sepolia.mantle.xyz",
		Explorer:    "https://sepolia.mantlescan.xyz",
		Features:    map[Feature]bool{},
		Fallbacks:   mantleFallbacks,
	})

	r.Register(MantleMainnet, &NetworkConfig{
		ChainID:     5000,
		RPCEndpoint: "https://rpc.mantle.xyz",
		Explorer:    "https://mantlescan.xyz",
		Features:    map[Feature]bool{},
		Fallbacks:   mantleFallbacks,
	})

	return r
}

func cloneFeatures(src map[Feature]bool) map[Feature]bool {
	out := make(map[Feature]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
