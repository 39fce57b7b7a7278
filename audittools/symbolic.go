package audittools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// symbolicFindings is the JSON shape a symbolic executor (Mythril-style)
// binary emits: a flat list of discovered vulnerabilities keyed by
// bytecode offset rather than source line.
type symbolicFindings struct {
	Vulnerabilities []struct {
		Severity    string `json:"severity"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Address     int    `json:"address"`
	} `json:"vulnerabilities"`
}

// SymbolicExecutor shells out to a symbolic-execution engine against the
// compiled bytecode, exploring execution paths a static pass can't reach.
type SymbolicExecutor struct {
	BinaryPath string
	Args       []string
}

func (e *SymbolicExecutor) Name() string { return "symbolic_executor" }

func (e *SymbolicExecutor) Run(ctx context.Context, workdir string, input Input) ([]Finding, error) {
	if e.BinaryPath == "" {
		return nil, fmt.Errorf("symbolic executor binary not configured")
	}
	if input.Bytecode == "" {
		return nil, fmt.Errorf("no bytecode available for symbolic execution")
	}

	bytecodePath := filepath.Join(workdir, "bytecode.hex")
	if err := os.WriteFile(bytecodePath, []byte(input.Bytecode), 0o600); err != nil {
		return nil, fmt.Errorf("write bytecode: %w", err)
	}

	args := append(append([]string{}, e.Args...), bytecodePath)
	cmd := exec.CommandContext(ctx, e.BinaryPath, args...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run symbolic executor: %w: %s", err, stderr.String())
	}

	var parsed symbolicFindings
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("parse symbolic executor output: %w", err)
	}

	findings := make([]Finding, 0, len(parsed.Vulnerabilities))
	for _, v := range parsed.Vulnerabilities {
		findings = append(findings, Finding{
			Tool:        e.Name(),
			Severity:    Severity(v.Severity),
			Title:       v.Title,
			Description: v.Description,
			Location:    fmt.Sprintf("bytecode offset %d", v.Address),
		})
	}
	return findings, nil
}
