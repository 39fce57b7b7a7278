// Package compiler wraps the solc binary (or a compatible drop-in) as an
// isolated subprocess, invoked with the JSON-stdin/JSON-stdout "standard
// JSON" interface documented in spec.md §6. contractforge never
// reimplements the Solidity compiler; this package only shells out to it.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// DefaultSolidityVersion is used when a source file carries no pragma, per
// spec.md §3's Generated Contract data model.
const DefaultSolidityVersion = "0.8.27"

// MinSupportedVersion is the floor for the "fall back to newest installed"
// policy in spec.md §4.4.2.
const MinSupportedVersion = "0.8.20"

var pragmaPattern = regexp.MustCompile(`pragma solidity\s+\^?(\d+\.\d+\.\d+)`)

// ExtractVersion returns the Solidity version pinned by source's pragma
// line, or DefaultSolidityVersion if none is present.
func ExtractVersion(source string) string {
	m := pragmaPattern.FindStringSubmatch(source)
	if len(m) < 2 {
		return DefaultSolidityVersion
	}
	return m[1]
}

// Result is one contract's compiled artifact set.
type Result struct {
	ContractName     string
	ABI              json.RawMessage
	Bytecode         string
	DeployedBytecode string
	SolidityVersion  string
}

// Compiler compiles Solidity source into bytecode and ABI.
type Compiler interface {
	Compile(ctx context.Context, source string) (*Result, error)
}

// BinaryResolver maps a Solidity version to the path of an installed solc
// binary capable of compiling it, or reports that none is available.
type BinaryResolver interface {
	Resolve(version string) (path string, ok bool)
}

// PathResolver is a BinaryResolver backed by a fixed map of version to
// binary path (e.g. "0.8.27" -> "/usr/local/bin/solc-0.8.27"), the layout
// produced by solc-select / svm-style version managers.
type PathResolver struct {
	Binaries map[string]string
}

// Resolve implements BinaryResolver. When version is not installed exactly,
// it falls back to the newest installed version that is >= MinSupportedVersion,
// per spec.md §4.4.2.
func (r PathResolver) Resolve(version string) (string, bool) {
	if path, ok := r.Binaries[version]; ok {
		return path, true
	}

	versions := make([]string, 0, len(r.Binaries))
	for v := range r.Binaries {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})

	for _, v := range versions {
		if compareVersions(v, MinSupportedVersion) >= 0 {
			return r.Binaries[v], true
		}
	}
	return "", false
}

// compareVersions compares two "x.y.z" version strings numerically.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			if len(as[i]) != len(bs[i]) {
				if len(as[i]) < len(bs[i]) {
					return -1
				}
				return 1
			}
			return strings.Compare(as[i], bs[i])
		}
	}
	return len(as) - len(bs)
}

// SolcCompiler invokes a resolved solc binary per contract, using the
// standard-json input/output format: JSON on stdin, JSON on stdout, never
// shell-interpolated source.
type SolcCompiler struct {
	resolver BinaryResolver
}

// NewSolcCompiler constructs a SolcCompiler backed by resolver.
func NewSolcCompiler(resolver BinaryResolver) *SolcCompiler {
	return &SolcCompiler{resolver: resolver}
}

// Error wraps a compiler diagnostic surfaced verbatim, per spec.md §7:
// CompilationError must carry the compiler's own message unmodified.
type Error struct {
	Diagnostics string
}

func (e *Error) Error() string {
	return fmt.Sprintf("compilation failed: %s", e.Diagnostics)
}

type standardJSONInput struct {
	Language string                    `json:"language"`
	Sources  map[string]sourceEntry    `json:"sources"`
	Settings standardJSONInputSettings `json:"settings"`
}

type sourceEntry struct {
	Content string `json:"content"`
}

type standardJSONInputSettings struct {
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

type standardJSONOutput struct {
	Errors    []standardJSONError                        `json:"errors"`
	Contracts map[string]map[string]standardJSONContract `json:"contracts"`
}

type standardJSONError struct {
	Severity        string `json:"severity"`
	FormattedMessage string `json:"formattedMessage"`
}

type standardJSONContract struct {
	ABI json.RawMessage `json:"abi"`
	EVM struct {
		Bytecode struct {
			Object string `json:"object"`
		} `json:"bytecode"`
		DeployedBytecode struct {
			Object string `json:"object"`
		} `json:"deployedBytecode"`
	} `json:"evm"`
}

const sourceFileName = "Contract.sol"

// Compile resolves the pragma-pinned compiler version, shells out to the
// matching solc binary with standard-json input, and returns one contract
// defined in the source. solc reports a file's contracts as a JSON object,
// so when the source defines several, which one is returned is not defined.
func (c *SolcCompiler) Compile(ctx context.Context, source string) (*Result, error) {
	version := ExtractVersion(source)

	path, ok := c.resolver.Resolve(version)
	if !ok {
		return nil, fmt.Errorf("no solc binary available for solidity %s (minimum %s)", version, MinSupportedVersion)
	}

	input := standardJSONInput{
		Language: "Solidity",
		Sources: map[string]sourceEntry{
			sourceFileName: {Content: source},
		},
		Settings: standardJSONInputSettings{
			OutputSelection: map[string]map[string][]string{
				"*": {"*": {"abi", "evm.bytecode.object", "evm.deployedBytecode.object"}},
			},
		},
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal standard-json input: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, "--standard-json")
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("invoke solc: %w: %s", err, stderr.String())
	}

	var output standardJSONOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, fmt.Errorf("parse solc output: %w", err)
	}

	var fatalMsgs []string
	for _, e := range output.Errors {
		if e.Severity == "error" {
			fatalMsgs = append(fatalMsgs, e.FormattedMessage)
		}
	}
	if len(fatalMsgs) > 0 {
		return nil, &Error{Diagnostics: strings.Join(fatalMsgs, "\n")}
	}

	fileContracts, ok := output.Contracts[sourceFileName]
	if !ok || len(fileContracts) == 0 {
		return nil, fmt.Errorf("solc produced no contract artifacts")
	}

	var name string
	var contract standardJSONContract
	for n, c := range fileContracts {
		name, contract = n, c
		break
	}

	return &Result{
		ContractName:     name,
		ABI:              contract.ABI,
		Bytecode:         contract.EVM.Bytecode.Object,
		DeployedBytecode: contract.EVM.DeployedBytecode.Object,
		SolidityVersion:  version,
	}, nil
}
