// Package stage implements the five pipeline stage services (generation,
// compilation, audit, testing, deployment) and the ServiceRegistry the
// orchestrator assembles a pipeline from. Every stage implements the same
// three-operation contract: Validate, Process, OnError.
package stage

import (
	"context"
	"encoding/json"
)

// Name identifies one pipeline stage. Event types and progress milestones
// are keyed off the same names.
type Name string

const (
	NameGeneration  Name = "generation"
	NameCompilation Name = "compilation"
	NameAudit       Name = "audit"
	NameTesting     Name = "testing"
	NameDeployment  Name = "deployment"
)

// DefaultPipeline is the fixed stage order, per spec.md §4.5. Implementers
// should resist hardcoding this sequence elsewhere; the ServiceRegistry
// filters it down to whatever stages are actually registered so that
// SkipAudit/SkipTesting simply omit entries.
func DefaultPipeline() []Name {
	return []Name{NameGeneration, NameCompilation, NameAudit, NameTesting, NameDeployment}
}

// CompiledContract is the Compilation stage's output, consumed by Audit,
// Testing, and Deployment.
type CompiledContract struct {
	ContractName     string          `json:"contract_name"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployed_bytecode"`
	SourceCodeHash   string          `json:"source_code_hash"`
	SolidityVersion  string          `json:"solidity_version"`
}

// BatchContractInput is one entry of a multi-contract deployment request,
// threaded into the Parallel Deployment Scheduler by the Deployment stage.
type BatchContractInput struct {
	ContractName     string
	CompiledContract *CompiledContract
	SourceCode       string
	Dependencies     []string
}

// Context is the explicit, named record threaded between stages by the
// orchestrator (spec.md §9: "avoid a catch-all context dict"). Each stage
// reads the fields it declared as input and writes the fields it declared
// as output; the orchestrator's mapping step is then just field copies,
// not map lookups.
type Context struct {
	WorkflowID string

	// ContractID is set by the orchestrator once the Compilation stage's
	// output has been persisted, so later stages' persisted rows (audit,
	// deployment) can reference the generated contract they describe.
	ContractID string

	// Request fields, set once at workflow creation.
	NLPDescription      string
	ContractType        string
	Network             string
	OptimizeForMetisVM  bool
	EnableFloatingPoint bool
	EnableAIInference   bool
	AuditLevel          string
	StrictTesting       bool
	DeployerAddress     string
	PrivateKey          string
	GasLimit            uint64
	MaxParallel         int
	BatchContracts      []BatchContractInput // set only for batch-deploy requests

	// Generation output.
	ContractCode       string
	ConstructorArgs    []any
	OptimizationReport map[string]any

	// Compilation output.
	CompiledContract *CompiledContract

	// Audit output.
	AuditFindings  []Finding
	AuditRiskScore float64
	AuditStatus    string
	AuditToolErrs  []string

	// Testing output.
	TestResult *TestResult

	// Deployment output.
	DeploymentResult *DeploymentResult
	BatchResult      *BatchResult
}

// FindingSeverity mirrors storage.FindingSeverity; stage operates on its
// own copy so it never needs to import storage for a handful of constants.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityHigh     FindingSeverity = "high"
	SeverityMedium   FindingSeverity = "medium"
	SeverityLow      FindingSeverity = "low"
	SeverityInfo     FindingSeverity = "info"
)

// Finding is a single vulnerability surfaced by an audit tool.
type Finding struct {
	Tool        string          `json:"tool"`
	Severity    FindingSeverity `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    string          `json:"location,omitempty"`
}

// TestResult is the Testing stage's output.
type TestResult struct {
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	Skipped         int     `json:"skipped"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// DeploymentResult is the single-contract Deployment stage's output.
type DeploymentResult struct {
	Address           string `json:"address"`
	TxHash            string `json:"tx_hash"`
	BlockNumber       uint64 `json:"block_number"`
	GasUsed           uint64 `json:"gas_used"`
	Nonce             uint64 `json:"nonce"`
	EigenDACommitment string `json:"eigenda_commitment,omitempty"`
}

// BatchResult is the Parallel Deployment Scheduler's output, surfaced
// through the Deployment stage when the input is a multi-contract request.
type BatchResult struct {
	Deployments     []BatchDeploymentOutcome `json:"deployments"`
	TotalTimeMillis int64                    `json:"total_time_ms"`
	SuccessCount    int                      `json:"success_count"`
	FailedCount     int                      `json:"failed_count"`
	BatchesDeployed int                      `json:"batches_deployed"`
}

// BatchDeploymentOutcome is one contract's result within a batch deploy.
type BatchDeploymentOutcome struct {
	ContractName string            `json:"contract_name"`
	Layer        int               `json:"layer"`
	Result       *DeploymentResult `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Stage is implemented by each of the five pipeline steps. Implementations
// are stateless between invocations: any number may run concurrently
// across workflows, but the orchestrator only ever runs one stage at a
// time for a given workflow.
type Stage interface {
	Name() Name

	// Validate checks structural and semantic preconditions before Process
	// runs. A non-nil error is always a ValidationError-classified failure.
	Validate(ctx context.Context, wf *Context) error

	// Process does the stage's work, publishing a "<stage>.started" event
	// before starting and a "<stage>.completed" or "<stage>.failed" event
	// when it ends. On success it writes its output fields into wf.
	Process(ctx context.Context, wf *Context) error

	// OnError is invoked by the orchestrator when Process returns an
	// error. It classifies and records diagnostic context; cleanup of any
	// stage-owned resource is left to the stage's own scope guards (defer)
	// rather than to this hook.
	OnError(ctx context.Context, wf *Context, err error)
}

// ServiceRegistry is a lookup table of stage name to handler, assembled
// once at Coordinator init (spec.md §9: "pipeline as data, not control
// flow"). The orchestrator walks Pipeline(), not a hardcoded sequence, so
// omitting a stage from the registry — e.g. to honor SkipAudit/SkipTesting
// — is enough to remove it from execution.
type ServiceRegistry struct {
	stages map[Name]Stage
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{stages: make(map[Name]Stage)}
}

// Register adds a stage implementation, keyed by its own Name().
func (r *ServiceRegistry) Register(s Stage) {
	r.stages[s.Name()] = s
}

// Get looks up a stage by name.
func (r *ServiceRegistry) Get(name Name) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// Pipeline returns DefaultPipeline() filtered to the stages actually
// registered, preserving the fixed pipeline order.
func (r *ServiceRegistry) Pipeline() []Name {
	out := make([]Name, 0, len(r.stages))
	for _, n := range DefaultPipeline() {
		if _, ok := r.stages[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
