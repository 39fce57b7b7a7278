// Package orchestrator implements the Sequential Orchestrator (spec.md
// §4.5): it drives one workflow through the fixed five-stage pipeline,
// threading stage outputs to the next stage's inputs via stage.Context,
// publishing progress events, persisting stage output rows, and checking
// the cooperative cancellation flag at each stage boundary.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chainforge/contractforge/eventbus"
	"github.com/chainforge/contractforge/metrics"
	"github.com/chainforge/contractforge/stage"
	"github.com/chainforge/contractforge/storage"
	"github.com/chainforge/contractforge/tracing"
)

// StagePolicy controls which stage failures are fatal to the workflow.
// Audit and Testing default to advisory per spec.md §4.5 and the Open
// Question #2 decision recorded in DESIGN.md; FatalOnAudit promotes a
// failed audit verdict to a hard stop.
type StagePolicy struct {
	FatalOnAudit bool
}

// progressAfter is the fixed milestone table from spec.md §4.5.
var progressAfter = map[stage.Name]int{
	stage.NameGeneration:  20,
	stage.NameCompilation: 40,
	stage.NameAudit:       60,
	stage.NameTesting:     80,
	stage.NameDeployment:  100,
}

// statusForStage maps a stage to the workflow status it puts the workflow
// into while it runs.
var statusForStage = map[stage.Name]storage.WorkflowStatus{
	stage.NameGeneration:  storage.WorkflowStatusGenerating,
	stage.NameCompilation: storage.WorkflowStatusCompiling,
	stage.NameAudit:       storage.WorkflowStatusAuditing,
	stage.NameTesting:     storage.WorkflowStatusTesting,
	stage.NameDeployment:  storage.WorkflowStatusDeploying,
}

// advisoryStages fail softly by default: the error is recorded but the
// pipeline continues, per spec.md §4.5 ("stages may be individually
// marked non-fatal (audit, testing by default)").
var advisoryStages = map[stage.Name]bool{
	stage.NameAudit:   true,
	stage.NameTesting: true,
}

// Store is the subset of storage.Store the orchestrator needs to transition
// and persist a workflow, narrowed so tests can supply a fake without a
// live Postgres connection. *storage.Store satisfies this directly.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*storage.Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id string, status storage.WorkflowStatus, stage storage.StageName) error
	UpdateWorkflowProgress(ctx context.Context, id string, progress int) error
	CompleteWorkflow(ctx context.Context, id string, status storage.WorkflowStatus, errMsg string) error
	CreateContract(ctx context.Context, c *storage.GeneratedContract) (string, error)
	SetContractCompilationResult(ctx context.Context, id string, abi []byte, bytecode, deployedBytecode, solidityVersion string) error
	CreateAuditRecord(ctx context.Context, a *storage.AuditRecord) (string, error)
	CreateDeploymentRecord(ctx context.Context, d *storage.DeploymentRecord) (string, error)
	SetDeploymentReceipt(ctx context.Context, id string, blockNumber, gasUsed uint64) error
	SetDeploymentEigenDACommitment(ctx context.Context, id, commitment string) error
}

// Orchestrator is stateless across workflows: every field mutated during a
// run lives on the stage.Context passed into Run, so one Orchestrator is
// shared by every in-flight workflow's goroutine.
type Orchestrator struct {
	registry *stage.ServiceRegistry
	store    Store
	bus      *eventbus.Bus
	policy   StagePolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer
}

// New constructs an Orchestrator. bus and logger may be nil.
func New(registry *stage.ServiceRegistry, store Store, bus *eventbus.Bus, policy StagePolicy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: registry, store: store, bus: bus, policy: policy, logger: logger, tracer: tracing.New("contractforge.orchestrator")}
}

// WithMetrics attaches a metrics.Metrics instance; stage durations and
// outcomes are observed against it. Safe to call with nil to disable.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Run walks registry.Pipeline() for one workflow to completion, failure,
// or cancellation. It never returns until the workflow has reached a
// terminal state; the returned error is for the caller's own logging
// (e.g. the coordinator's background task), since the authoritative
// outcome is always persisted onto the workflow row itself.
func (o *Orchestrator) Run(ctx context.Context, wfCtx *stage.Context) error {
	if o.metrics != nil {
		o.metrics.WorkflowsActive.Inc()
		defer o.metrics.WorkflowsActive.Dec()
	}

	ctx, span := o.tracer.Start(ctx, "workflow.run",
		attribute.String("workflow.id", wfCtx.WorkflowID),
		attribute.String("workflow.network", wfCtx.Network),
	)
	var runErr error
	defer func() { tracing.End(span, runErr) }()

	o.publishWorkflow(ctx, wfCtx.WorkflowID, eventbus.TypeWorkflowStarted, nil)

	for _, name := range o.registry.Pipeline() {
		if o.cancelRequested(ctx, wfCtx.WorkflowID) {
			runErr = o.cancel(ctx, wfCtx.WorkflowID)
			return runErr
		}

		st, ok := o.registry.Get(name)
		if !ok {
			continue // removed from the pipeline list (SkipAudit/SkipTesting)
		}

		if err := o.runStage(ctx, st, wfCtx); err != nil {
			if advisoryStages[name] && !(name == stage.NameAudit && o.policy.FatalOnAudit) {
				o.logger.Warn("advisory stage failed, continuing pipeline",
					"workflow_id", wfCtx.WorkflowID, "stage", name, "error", err)
				o.persistStageOutput(ctx, name, wfCtx)
				o.advanceProgress(ctx, wfCtx.WorkflowID, name)
				continue
			}
			runErr = o.fail(ctx, wfCtx.WorkflowID, err)
			return runErr
		}

		o.persistStageOutput(ctx, name, wfCtx)
		o.advanceProgress(ctx, wfCtx.WorkflowID, name)
	}

	runErr = o.complete(ctx, wfCtx.WorkflowID)
	return runErr
}

// runStage transitions the workflow into the stage's running status, then
// validates and processes it. Stage-level publish of started/completed/
// failed events is the stage's own responsibility per spec.md §4.4;
// Validate failures are classified and reported through OnError exactly
// like Process failures, since both originate as stage.Error values.
func (o *Orchestrator) runStage(ctx context.Context, st stage.Stage, wfCtx *stage.Context) error {
	name := st.Name()
	if status, ok := statusForStage[name]; ok {
		if err := o.store.UpdateWorkflowStatus(ctx, wfCtx.WorkflowID, status, storage.StageName(name)); err != nil {
			o.logger.Warn("failed to update workflow status", "workflow_id", wfCtx.WorkflowID, "error", err)
		}
	}

	if err := st.Validate(ctx, wfCtx); err != nil {
		st.OnError(ctx, wfCtx, err)
		o.observe(name, 0, metrics.OutcomeFailure)
		return err
	}

	spanCtx, span := o.tracer.Start(ctx, "stage.process", attribute.String("stage.name", string(name)), attribute.String("workflow.id", wfCtx.WorkflowID))
	started := time.Now()
	err := st.Process(spanCtx, wfCtx)
	elapsed := time.Since(started).Seconds()
	tracing.End(span, err)
	if err != nil {
		st.OnError(ctx, wfCtx, err)
		outcome := metrics.OutcomeFailure
		if advisoryStages[name] {
			outcome = metrics.OutcomeAdvisory
		}
		o.observe(name, elapsed, outcome)
		return err
	}
	o.observe(name, elapsed, metrics.OutcomeSuccess)
	return nil
}

func (o *Orchestrator) observe(name stage.Name, seconds float64, outcome metrics.StageOutcome) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveStage(string(name), seconds, outcome)
}

// persistStageOutput writes the row each stage's output belongs to, per
// spec.md §4.5's "On success" column. Persistence failures are logged,
// not propagated: a successful stage shouldn't be downgraded to a
// workflow failure just because its audit trail couldn't be written.
func (o *Orchestrator) persistStageOutput(ctx context.Context, name stage.Name, wfCtx *stage.Context) {
	switch name {
	case stage.NameCompilation:
		if wfCtx.CompiledContract == nil {
			return
		}
		constructorArgs, _ := json.Marshal(wfCtx.ConstructorArgs)
		contract := &storage.GeneratedContract{
			WorkflowID:      wfCtx.WorkflowID,
			Name:            wfCtx.CompiledContract.ContractName,
			SourceCode:      wfCtx.ContractCode,
			SourceCodeHash:  wfCtx.CompiledContract.SourceCodeHash,
			PragmaVersion:   wfCtx.CompiledContract.SolidityVersion,
			ConstructorArgs: constructorArgs,
		}
		id, err := o.store.CreateContract(ctx, contract)
		if err != nil {
			o.logger.Error("failed to persist generated contract", "workflow_id", wfCtx.WorkflowID, "error", err)
			return
		}
		if err := o.store.SetContractCompilationResult(ctx, id, wfCtx.CompiledContract.ABI,
			wfCtx.CompiledContract.Bytecode, wfCtx.CompiledContract.DeployedBytecode, wfCtx.CompiledContract.SolidityVersion); err != nil {
			o.logger.Error("failed to set compilation result", "workflow_id", wfCtx.WorkflowID, "error", err)
			return
		}
		wfCtx.ContractID = id

	case stage.NameAudit:
		if wfCtx.ContractID == "" {
			return
		}
		findings := make([]storage.Finding, 0, len(wfCtx.AuditFindings))
		for _, f := range wfCtx.AuditFindings {
			findings = append(findings, storage.Finding{
				Tool:        f.Tool,
				Severity:    storage.FindingSeverity(f.Severity),
				Title:       f.Title,
				Description: f.Description,
			})
		}
		record := &storage.AuditRecord{
			WorkflowID: wfCtx.WorkflowID,
			ContractID: wfCtx.ContractID,
			Findings:   findings,
			RiskScore:  wfCtx.AuditRiskScore,
			Status:     storage.AuditStatus(wfCtx.AuditStatus),
			Passed:     wfCtx.AuditStatus == string(storage.AuditStatusPassed),
			ToolErrors: wfCtx.AuditToolErrs,
		}
		if _, err := o.store.CreateAuditRecord(ctx, record); err != nil {
			o.logger.Error("failed to persist audit record", "workflow_id", wfCtx.WorkflowID, "error", err)
		}

	case stage.NameDeployment:
		o.persistDeployments(ctx, wfCtx)
	}
}

// persistDeployments records either the single deployment result or every
// outcome from a batch run, keyed to the workflow's one generated contract
// (batch deployments in this pipeline all originate from one workflow's
// compiled contract set passed in via BatchContracts; multi-contract
// batch requests that skip compilation entirely persist under the
// workflow's contract_id of "" since they were never compiled by this
// workflow's own Compilation stage).
func (o *Orchestrator) persistDeployments(ctx context.Context, wfCtx *stage.Context) {
	if wfCtx.DeploymentResult != nil {
		record := &storage.DeploymentRecord{
			WorkflowID:      wfCtx.WorkflowID,
			ContractID:      wfCtx.ContractID,
			Network:         wfCtx.Network,
			Status:          storage.DeploymentStatusConfirmed,
			DeployerAddress: wfCtx.DeployerAddress,
			Address:         wfCtx.DeploymentResult.Address,
			TxHash:          wfCtx.DeploymentResult.TxHash,
			Nonce:           wfCtx.DeploymentResult.Nonce,
		}
		id, err := o.store.CreateDeploymentRecord(ctx, record)
		if err != nil {
			o.logger.Error("failed to persist deployment record", "workflow_id", wfCtx.WorkflowID, "error", err)
			return
		}
		if err := o.store.SetDeploymentReceipt(ctx, id, wfCtx.DeploymentResult.BlockNumber, wfCtx.DeploymentResult.GasUsed); err != nil {
			o.logger.Error("failed to set deployment receipt", "workflow_id", wfCtx.WorkflowID, "error", err)
		}
		if wfCtx.DeploymentResult.EigenDACommitment != "" {
			if err := o.store.SetDeploymentEigenDACommitment(ctx, id, wfCtx.DeploymentResult.EigenDACommitment); err != nil {
				o.logger.Error("failed to set eigenda commitment", "workflow_id", wfCtx.WorkflowID, "error", err)
			}
		}
		return
	}

	if wfCtx.BatchResult == nil {
		return
	}
	for _, outcome := range wfCtx.BatchResult.Deployments {
		record := &storage.DeploymentRecord{
			WorkflowID:      wfCtx.WorkflowID,
			ContractID:      wfCtx.ContractID,
			Network:         wfCtx.Network,
			DeployerAddress: wfCtx.DeployerAddress,
			Layer:           outcome.Layer,
		}
		if outcome.Result != nil {
			record.Status = storage.DeploymentStatusConfirmed
			record.Address = outcome.Result.Address
			record.TxHash = outcome.Result.TxHash
			record.Nonce = outcome.Result.Nonce
		} else {
			record.Status = storage.DeploymentStatusFailed
			record.Error = outcome.Error
		}
		id, err := o.store.CreateDeploymentRecord(ctx, record)
		if err != nil {
			o.logger.Error("failed to persist batch deployment record", "workflow_id", wfCtx.WorkflowID, "contract", outcome.ContractName, "error", err)
			continue
		}
		if outcome.Result != nil {
			if err := o.store.SetDeploymentReceipt(ctx, id, outcome.Result.BlockNumber, outcome.Result.GasUsed); err != nil {
				o.logger.Error("failed to set batch deployment receipt", "workflow_id", wfCtx.WorkflowID, "error", err)
			}
		}
	}
}

func (o *Orchestrator) advanceProgress(ctx context.Context, workflowID string, name stage.Name) {
	progress, ok := progressAfter[name]
	if !ok {
		return
	}
	if err := o.store.UpdateWorkflowProgress(ctx, workflowID, progress); err != nil {
		o.logger.Warn("failed to advance workflow progress", "workflow_id", workflowID, "error", err)
	}
}

func (o *Orchestrator) cancelRequested(ctx context.Context, workflowID string) bool {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		o.logger.Warn("failed to check cancellation flag", "workflow_id", workflowID, "error", err)
		return false
	}
	return wf.CancelRequested
}

func (o *Orchestrator) cancel(ctx context.Context, workflowID string) error {
	if err := o.store.CompleteWorkflow(ctx, workflowID, storage.WorkflowStatusCancelled, ""); err != nil {
		o.logger.Error("failed to record cancellation", "workflow_id", workflowID, "error", err)
	}
	o.publishWorkflow(ctx, workflowID, eventbus.TypeWorkflowCancelled, nil)
	return stage.ErrCancelled
}

func (o *Orchestrator) fail(ctx context.Context, workflowID string, cause error) error {
	if err := o.store.CompleteWorkflow(ctx, workflowID, storage.WorkflowStatusFailed, cause.Error()); err != nil {
		o.logger.Error("failed to record workflow failure", "workflow_id", workflowID, "error", err)
	}
	o.publishWorkflow(ctx, workflowID, eventbus.TypeWorkflowFailed, map[string]any{"error": cause.Error()})
	return fmt.Errorf("workflow %s failed: %w", workflowID, cause)
}

func (o *Orchestrator) complete(ctx context.Context, workflowID string) error {
	if err := o.store.CompleteWorkflow(ctx, workflowID, storage.WorkflowStatusCompleted, ""); err != nil {
		o.logger.Error("failed to record workflow completion", "workflow_id", workflowID, "error", err)
	}
	o.publishWorkflow(ctx, workflowID, eventbus.TypeWorkflowCompleted, nil)
	return nil
}

func (o *Orchestrator) publishWorkflow(ctx context.Context, workflowID string, t eventbus.Type, data any) {
	if o.bus == nil {
		return
	}
	evt, err := eventbus.NewEvent(t, workflowID, "", data)
	if err != nil {
		o.logger.Warn("failed to build workflow event", "type", t, "error", err)
		return
	}
	if err := o.bus.Publish(ctx, evt); err != nil {
		o.logger.Warn("failed to publish workflow event", "type", t, "error", err)
	}
}
