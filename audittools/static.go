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

// staticFindings is the JSON shape a static analyzer binary is expected to
// emit on stdout: a flat array of issues.
type staticFindings struct {
	Issues []struct {
		Severity    string `json:"severity"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Line        int    `json:"line"`
	} `json:"issues"`
}

// StaticAnalyzer shells out to a Slither-compatible static analysis binary
// against the generated source file.
type StaticAnalyzer struct {
	// BinaryPath is the absolute path to the analyzer executable.
	BinaryPath string
	// Args are extra flags inserted before the source file path, e.g.
	// []string{"--json", "-"} for tools that accept JSON-on-stdout mode.
	Args []string
}

func (a *StaticAnalyzer) Name() string { return "static_analyzer" }

func (a *StaticAnalyzer) Run(ctx context.Context, workdir string, input Input) ([]Finding, error) {
	if a.BinaryPath == "" {
		return nil, fmt.Errorf("static analyzer binary not configured")
	}

	srcPath := filepath.Join(workdir, "Contract.sol")
	if err := os.WriteFile(srcPath, []byte(input.SourceCode), 0o600); err != nil {
		return nil, fmt.Errorf("write contract source: %w", err)
	}

	args := append(append([]string{}, a.Args...), srcPath)
	cmd := exec.CommandContext(ctx, a.BinaryPath, args...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run static analyzer: %w: %s", err, stderr.String())
	}

	var parsed staticFindings
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("parse static analyzer output: %w", err)
	}

	findings := make([]Finding, 0, len(parsed.Issues))
	for _, issue := range parsed.Issues {
		findings = append(findings, Finding{
			Tool:        a.Name(),
			Severity:    Severity(issue.Severity),
			Title:       issue.Title,
			Description: issue.Description,
			Location:    fmt.Sprintf("Contract.sol:%d", issue.Line),
		})
	}
	return findings, nil
}
