// Package testrunner wraps a Foundry-compatible (forge test) binary as an
// isolated subprocess, the test-runner collaborator the Testing stage
// invokes.
package testrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/chainforge/contractforge/stage"
)

// forgeTestReport is the subset of `forge test --json` output this runner
// consumes: a per-test pass/fail record plus a line-coverage summary.
type forgeTestReport struct {
	Tests []struct {
		Status string `json:"status"` // "Success", "Failure", "Skipped"
	} `json:"tests"`
	Coverage struct {
		LinesCoveredPercent float64 `json:"lines_covered_percent"`
	} `json:"coverage"`
}

// ForgeRunner shells out to a forge-compatible binary against the
// generated source and its compiled artifact, writing both into an
// isolated scratch directory before invoking the test command.
type ForgeRunner struct {
	BinaryPath string
	Args       []string
}

// NewForgeRunner constructs a ForgeRunner. args are extra flags inserted
// before the project directory, e.g. []string{"test", "--json"}.
func NewForgeRunner(binaryPath string, args []string) *ForgeRunner {
	return &ForgeRunner{BinaryPath: binaryPath, Args: args}
}

// RunTests implements stage.TestRunner.
func (r *ForgeRunner) RunTests(ctx context.Context, contract *stage.CompiledContract, source string) (*stage.TestResult, error) {
	if r.BinaryPath == "" {
		return nil, fmt.Errorf("test runner binary not configured")
	}

	workdir, err := os.MkdirTemp("", "contractforge-test-")
	if err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	srcDir := filepath.Join(workdir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return nil, fmt.Errorf("create src dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "Contract.sol"), []byte(source), 0o600); err != nil {
		return nil, fmt.Errorf("write contract source: %w", err)
	}
	if contract != nil && len(contract.ABI) > 0 {
		if err := os.WriteFile(filepath.Join(workdir, "abi.json"), contract.ABI, 0o600); err != nil {
			return nil, fmt.Errorf("write abi: %w", err)
		}
	}

	args := append(append([]string{}, r.Args...), workdir)
	cmd := exec.CommandContext(ctx, r.BinaryPath, args...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// forge test exits non-zero when any test fails; that's a legitimate
	// result to parse, not an invocation error. Only treat it as a runner
	// error if stdout didn't contain a parseable report.
	runErr := cmd.Run()

	var report forgeTestReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("run test runner: %w: %s", runErr, stderr.String())
		}
		return nil, fmt.Errorf("parse test runner output: %w", err)
	}

	result := &stage.TestResult{CoveragePercent: report.Coverage.LinesCoveredPercent}
	for _, test := range report.Tests {
		switch test.Status {
		case "Success":
			result.Passed++
		case "Skipped":
			result.Skipped++
		default:
			result.Failed++
		}
	}
	return result, nil
}
