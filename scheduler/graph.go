// Package scheduler implements the Parallel Deployment Scheduler: it
// groups a batch of contracts into dependency-respecting cohorts and
// deploys each cohort concurrently, bounded by a configured parallelism
// limit, per spec.md §4.6. It defines its own contract/result types
// rather than importing package stage, so that stage (which delegates
// batch deploys to this package) doesn't create an import cycle; the
// Deployment stage converts between the two at the boundary.
package scheduler

import (
	"regexp"
	"strings"
)

// ContractInput is one contract in a batch deployment request.
type ContractInput struct {
	ContractName     string
	ABI              []byte
	Bytecode         string
	DeployedBytecode string
	SourceCode       string
	ConstructorArgs  []any
	Dependencies     []string
}

var importPattern = regexp.MustCompile(`import\s+(?:\{[^}]*\}\s+from\s+)?"([^"]+)"`)

// parseImports extracts the bare contract names a source file imports,
// stripping any path and the .sol extension, e.g. `import "./Token.sol";`
// -> "Token".
func parseImports(source string) []string {
	matches := importPattern.FindAllStringSubmatch(source, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		path := m[1]
		if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
			path = path[idx+1:]
		}
		path = strings.TrimSuffix(path, ".sol")
		names = append(names, path)
	}
	return names
}

// dependenciesOf merges a contract's explicit Dependencies with any
// contract names detected via import parsing, deduplicated and filtered
// to names actually present in the batch (an import of an external,
// already-deployed library isn't a same-batch ordering constraint).
func dependenciesOf(c ContractInput, batchNames map[string]bool) []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if name == c.ContractName || !batchNames[name] || seen[name] {
			return
		}
		seen[name] = true
		deps = append(deps, name)
	}
	for _, d := range c.Dependencies {
		add(d)
	}
	for _, d := range parseImports(c.SourceCode) {
		add(d)
	}
	return deps
}

// layerResult is a Kahn-layered ordering of the batch, or ok=false if the
// dependency graph contains a cycle.
type layerResult struct {
	layers [][]ContractInput
	ok     bool
}

// buildLayers performs Kahn's algorithm over the batch's dependency graph.
// Each returned layer can be deployed concurrently once every prior layer
// has completed. A cycle anywhere in the graph causes ok=false; the caller
// falls back to deploying the batch sequentially in input order.
func buildLayers(contracts []ContractInput) layerResult {
	batchNames := make(map[string]bool, len(contracts))
	for _, c := range contracts {
		batchNames[c.ContractName] = true
	}

	deps := make(map[string][]string, len(contracts))
	indegree := make(map[string]int, len(contracts))
	for _, c := range contracts {
		d := dependenciesOf(c, batchNames)
		deps[c.ContractName] = d
		indegree[c.ContractName] = len(d)
	}

	// dependents[x] = contracts that depend on x, used to decrement
	// indegree as x's layer is peeled off.
	dependents := make(map[string][]string)
	for name, ds := range deps {
		for _, d := range ds {
			dependents[d] = append(dependents[d], name)
		}
	}

	remaining := len(contracts)
	var layers [][]ContractInput

	for remaining > 0 {
		var layer []ContractInput
		for _, c := range contracts {
			if indegree[c.ContractName] == 0 {
				layer = append(layer, c)
			}
		}
		if len(layer) == 0 {
			return layerResult{ok: false}
		}
		layers = append(layers, layer)
		for _, c := range layer {
			indegree[c.ContractName] = -1 // mark processed, excluded from future layers
			remaining--
			for _, dependent := range dependents[c.ContractName] {
				if indegree[dependent] > 0 {
					indegree[dependent]--
				}
			}
		}
	}
	return layerResult{layers: layers, ok: true}
}
