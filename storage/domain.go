// Package storage provides Postgres-backed persistence for ContractForge's
// core entities: workflows, generated contracts, audit records, deployment
// records, and the RAG template corpus.
package storage

import "time"

// WorkflowStatus tracks a workflow's progress through the pipeline.
type WorkflowStatus string

const (
	WorkflowStatusCreated     WorkflowStatus = "created"
	WorkflowStatusGenerating  WorkflowStatus = "generating"
	WorkflowStatusCompiling   WorkflowStatus = "compiling"
	WorkflowStatusAuditing    WorkflowStatus = "auditing"
	WorkflowStatusTesting     WorkflowStatus = "testing"
	WorkflowStatusDeploying   WorkflowStatus = "deploying"
	WorkflowStatusCompleted   WorkflowStatus = "completed"
	WorkflowStatusFailed      WorkflowStatus = "failed"
	WorkflowStatusCancelled   WorkflowStatus = "cancelled"
)

// StageName identifies one stage of the pipeline, used both for status
// transitions and for per-stage progress milestones.
type StageName string

const (
	StageGeneration  StageName = "generation"
	StageCompilation StageName = "compilation"
	StageAudit       StageName = "audit"
	StageTesting     StageName = "testing"
	StageDeployment  StageName = "deployment"
)

// Workflow is the top-level unit of work: a natural-language request that
// flows through generation, compilation, audit, testing, and deployment.
type Workflow struct {
	ID               string         `json:"id"`
	Prompt           string         `json:"prompt"`
	Network          string         `json:"network"`
	ContractType     string         `json:"contract_type,omitempty"`
	Status           WorkflowStatus `json:"status"`
	CurrentStage     StageName      `json:"current_stage,omitempty"`
	Progress         int            `json:"progress"`
	Error            string         `json:"error,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	FeaturesRequested []byte        `json:"features_requested,omitempty"` // JSON-encoded map[string]bool
	FeaturesUsed     []byte         `json:"features_used,omitempty"`      // JSON-encoded map[string]bool
	CancelRequested  bool           `json:"cancel_requested"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// GeneratedContract is one LLM-generated Solidity source produced for a workflow.
type GeneratedContract struct {
	ID                string    `json:"id"`
	WorkflowID        string    `json:"workflow_id"`
	Name              string    `json:"name"`
	SourceCode        string    `json:"source_code"`
	SourceCodeHash    string    `json:"source_code_hash"`
	PragmaVersion     string    `json:"pragma_version"`
	SolidityVersion   string    `json:"solidity_version,omitempty"`
	ABI               []byte    `json:"abi,omitempty"`               // JSON-encoded
	Bytecode          string    `json:"bytecode,omitempty"`          // hex-encoded
	DeployedBytecode  string    `json:"deployed_bytecode,omitempty"` // hex-encoded
	ConstructorArgs   []byte    `json:"constructor_args,omitempty"`  // JSON-encoded
	TemplateID        string    `json:"template_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// FindingSeverity classifies an audit finding's risk.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityHigh     FindingSeverity = "high"
	SeverityMedium   FindingSeverity = "medium"
	SeverityLow      FindingSeverity = "low"
	SeverityInfo     FindingSeverity = "info"
)

// Finding is a single issue surfaced by an audit tool.
type Finding struct {
	Tool        string          `json:"tool"`
	Severity    FindingSeverity `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Line        int             `json:"line,omitempty"`
}

// AuditStatus is the advisory verdict derived from a contract's risk score.
type AuditStatus string

const (
	AuditStatusPassed  AuditStatus = "passed"
	AuditStatusWarning AuditStatus = "warning"
	AuditStatusFailed  AuditStatus = "failed"
)

// AuditRecord captures the combined result of running the audit tool chain
// against one generated contract.
type AuditRecord struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflow_id"`
	ContractID string      `json:"contract_id"`
	Findings   []Finding   `json:"findings"`
	RiskScore  float64     `json:"risk_score"`
	Status     AuditStatus `json:"status"`
	Passed     bool        `json:"passed"`
	ToolErrors []string    `json:"tool_errors,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// DeploymentStatus tracks one contract's deployment lifecycle.
type DeploymentStatus string

const (
	DeploymentStatusPending   DeploymentStatus = "pending"
	DeploymentStatusSubmitted DeploymentStatus = "submitted"
	DeploymentStatusConfirmed DeploymentStatus = "confirmed"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// DeploymentRecord tracks the on-chain outcome of deploying one contract.
type DeploymentRecord struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	ContractID       string           `json:"contract_id"`
	Network          string           `json:"network"`
	Status           DeploymentStatus `json:"status"`
	DeployerAddress  string           `json:"deployer_address,omitempty"`
	Address          string           `json:"address,omitempty"`
	TxHash           string           `json:"tx_hash,omitempty"`
	Nonce            uint64           `json:"nonce"`
	Layer            int              `json:"layer"` // topological layer assigned by the scheduler
	BlockNumber      uint64           `json:"block_number,omitempty"`
	GasUsed          uint64           `json:"gas_used,omitempty"`
	EigenDACommitment string          `json:"eigenda_commitment,omitempty"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ConfirmedAt      *time.Time       `json:"confirmed_at,omitempty"`
}

// ContractTemplate is a reference implementation in the RAG corpus, retrieved
// by embedding similarity to seed the generation prompt.
type ContractTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"` // e.g. "erc20", "erc721", "governance"
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	SourceCode  string    `json:"source_code"`
	Embedding   []float32 `json:"-"` // stored as pgvector, not serialized in API responses
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is an append-only workflow lifecycle event, mirrored onto the event
// bus for subscriber fan-out and persisted here for replay/audit. The ID is a
// UUID, matching eventbus.Event's wire envelope, so a persisted row and its
// bus envelope share an identity.
type Event struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Type       string    `json:"type"`
	Stage      StageName `json:"stage,omitempty"`
	Payload    []byte    `json:"payload,omitempty"` // JSON-encoded
	CreatedAt  time.Time `json:"created_at"`
}
