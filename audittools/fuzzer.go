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

// fuzzerFindings is the JSON shape a property/invariant fuzzer (Echidna-
// style) binary emits on stdout after a campaign completes or times out.
type fuzzerFindings struct {
	Failures []struct {
		Severity    string `json:"severity"`
		Property    string `json:"property"`
		Description string `json:"description"`
		Sequence    string `json:"call_sequence"`
	} `json:"failures"`
}

// Fuzzer shells out to a property-based fuzzing campaign against the
// generated source. It only runs at comprehensive audit depth, per
// spec.md §4.4.3, since campaigns are the most expensive of the three tools.
type Fuzzer struct {
	BinaryPath string
	Args       []string
}

func (f *Fuzzer) Name() string { return "fuzzer" }

func (f *Fuzzer) Run(ctx context.Context, workdir string, input Input) ([]Finding, error) {
	if f.BinaryPath == "" {
		return nil, fmt.Errorf("fuzzer binary not configured")
	}

	srcPath := filepath.Join(workdir, "Contract.sol")
	if err := os.WriteFile(srcPath, []byte(input.SourceCode), 0o600); err != nil {
		return nil, fmt.Errorf("write contract source: %w", err)
	}

	args := append(append([]string{}, f.Args...), srcPath)
	cmd := exec.CommandContext(ctx, f.BinaryPath, args...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run fuzzer: %w: %s", err, stderr.String())
	}

	var parsed fuzzerFindings
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("parse fuzzer output: %w", err)
	}

	findings := make([]Finding, 0, len(parsed.Failures))
	for _, fail := range parsed.Failures {
		findings = append(findings, Finding{
			Tool:        f.Name(),
			Severity:    Severity(fail.Severity),
			Title:       fmt.Sprintf("property violated: %s", fail.Property),
			Description: fail.Description,
			Location:    fail.Sequence,
		})
	}
	return findings, nil
}
