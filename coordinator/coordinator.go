// Package coordinator implements the Workflow Coordinator (spec.md §4.7):
// the top-level entry point that validates requested features against the
// Network Feature Registry, creates a workflow row, and dispatches the
// Sequential Orchestrator as a background task.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chainforge/contractforge/eventbus"
	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/orchestrator"
	"github.com/chainforge/contractforge/stage"
	"github.com/chainforge/contractforge/storage"
)

// Request is the input to Create, mirroring the HTTP API's
// POST /workflows/generate body (spec.md §6).
type Request struct {
	NLPDescription      string
	Network             string
	ContractType        string
	OptimizeForMetisVM  bool
	EnableFloatingPoint bool
	EnableAIInference   bool
	AuditLevel          string
	StrictTesting       bool
	DeployerAddress     string
	PrivateKey          string
	GasLimit            uint64
	BatchContracts      []stage.BatchContractInput
	MaxParallel         int
}

// CreateResult is what Create returns to the caller: the workflow id plus
// the feature-validation outcome, so an HTTP handler can populate the
// `{workflow_id, status, warnings, features_used}` response shape exactly.
type CreateResult struct {
	WorkflowID   string
	Warnings     []string
	FeaturesUsed map[network.Feature]bool
}

// Orchestrator is the subset of orchestrator.Orchestrator the coordinator
// dispatches to, narrowed for testability.
type Orchestrator interface {
	Run(ctx context.Context, wfCtx *stage.Context) error
}

// Store is the subset of storage.Store the coordinator itself touches
// directly (workflow creation, cancellation, and the read-only lookups);
// everything else is the orchestrator's concern.
type Store interface {
	CreateWorkflow(ctx context.Context, w *storage.Workflow) (string, error)
	GetWorkflow(ctx context.Context, id string) (*storage.Workflow, error)
	RequestWorkflowCancellation(ctx context.Context, id string) error
	SetWorkflowFeaturesUsed(ctx context.Context, id string, features map[string]bool) error
	AppendWorkflowWarning(ctx context.Context, id, warning string) error
	ListContractsByWorkflow(ctx context.Context, workflowID string) ([]*storage.GeneratedContract, error)
	ListDeploymentsByWorkflow(ctx context.Context, workflowID string) ([]*storage.DeploymentRecord, error)
}

// Coordinator is the engine's top-level entry point. It owns no workflow
// state itself — every field it writes to a workflow row is either the
// initial creation or the cooperative cancellation flag; all other
// transitions belong exclusively to the orchestrator task running that
// workflow, per spec.md §4.7's ownership rule.
type Coordinator struct {
	orch     Orchestrator
	store    Store
	networks *network.Registry
	bus      *eventbus.Bus
	logger   *slog.Logger

	// wg tracks in-flight orchestration goroutines so Shutdown can drain
	// them before the process exits, mirroring the teacher's App lifecycle
	// shutdown shape (cmd/contractforge/app.go).
	wg sync.WaitGroup
}

// New constructs a Coordinator. bus and logger may be nil.
func New(orch Orchestrator, store Store, networks *network.Registry, bus *eventbus.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{orch: orch, store: store, networks: networks, bus: bus, logger: logger}
}

// requestedFeatures maps a Request's boolean toggles onto the network
// registry's Feature vocabulary, in the order spec.md §3 lists them.
func requestedFeatures(req Request) map[network.Feature]bool {
	return map[network.Feature]bool{
		network.FeatureMetisVM:       req.OptimizeForMetisVM,
		network.FeatureFloatingPoint: req.EnableFloatingPoint,
		network.FeatureAIInference:   req.EnableAIInference,
		network.FeatureEigenDA:       true, // requested implicitly whenever the network supports it (spec.md §4.4.5 step 5)
	}
}

// Create validates requested features against the network registry,
// inserts a workflow row in `created` status, and dispatches the
// orchestrator asynchronously. It returns as soon as the row exists;
// Create never blocks on pipeline execution.
func (c *Coordinator) Create(ctx context.Context, req Request) (*CreateResult, error) {
	var warnings []string
	featuresUsed := make(map[network.Feature]bool)

	for feature, requested := range requestedFeatures(req) {
		if !requested {
			featuresUsed[feature] = false
			continue
		}
		if c.networks.Supports(req.Network, feature) {
			featuresUsed[feature] = true
			continue
		}
		featuresUsed[feature] = false
		if feature == network.FeatureEigenDA {
			continue // EigenDA is opportunistic, not user-requested; no warning needed when absent.
		}
		warnings = append(warnings, fmt.Sprintf("%s unavailable on %s: %s", feature, req.Network, c.networks.Fallback(req.Network, feature)))
	}

	if len(req.BatchContracts) > 1 && !c.networks.Supports(req.Network, network.FeatureBatchDeployment) {
		// Per spec.md §4.2: this is a degraded execution, not a warning.
		c.logger.Info("batch deployment requested on a network without BatchDeployment; degrading to sequential",
			"network", req.Network)
	}

	workflow := &storage.Workflow{
		Prompt:       req.NLPDescription,
		Network:      req.Network,
		ContractType: req.ContractType,
		Status:       storage.WorkflowStatusCreated,
		Warnings:     warnings,
	}
	id, err := c.store.CreateWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	featuresJSON := make(map[string]bool, len(featuresUsed))
	for f, v := range featuresUsed {
		featuresJSON[string(f)] = v
	}
	if err := c.store.SetWorkflowFeaturesUsed(ctx, id, featuresJSON); err != nil {
		c.logger.Warn("failed to record resolved features", "workflow_id", id, "error", err)
	}
	for _, w := range warnings {
		if err := c.store.AppendWorkflowWarning(ctx, id, w); err != nil {
			c.logger.Warn("failed to record feature warning", "workflow_id", id, "error", err)
		}
	}

	c.publishCreated(ctx, id)
	c.dispatch(id, req, featuresUsed)

	return &CreateResult{WorkflowID: id, Warnings: warnings, FeaturesUsed: featuresUsed}, nil
}

// dispatch launches the orchestrator on a background goroutine, tracked by
// wg for graceful shutdown. It runs detached from the request context
// that called Create, since the caller's HTTP request finishes long
// before the workflow does.
func (c *Coordinator) dispatch(workflowID string, req Request, featuresUsed map[network.Feature]bool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		wfCtx := &stage.Context{
			WorkflowID:          workflowID,
			NLPDescription:      req.NLPDescription,
			ContractType:        req.ContractType,
			Network:             req.Network,
			OptimizeForMetisVM:  featuresUsed[network.FeatureMetisVM],
			EnableFloatingPoint: featuresUsed[network.FeatureFloatingPoint],
			EnableAIInference:   featuresUsed[network.FeatureAIInference],
			AuditLevel:          req.AuditLevel,
			StrictTesting:       req.StrictTesting,
			DeployerAddress:     req.DeployerAddress,
			PrivateKey:          req.PrivateKey,
			GasLimit:            req.GasLimit,
			BatchContracts:      req.BatchContracts,
			MaxParallel:         req.MaxParallel,
		}

		if err := c.orch.Run(context.Background(), wfCtx); err != nil {
			c.logger.Warn("workflow orchestration ended with error", "workflow_id", workflowID, "error", err)
		}
	}()
}

// Cancel flips the cooperative cancellation flag. Per spec.md §4.7, the
// Coordinator is the only actor besides the orchestrator itself allowed to
// write to a workflow row, and only ever this one flag.
func (c *Coordinator) Cancel(ctx context.Context, workflowID string) error {
	return c.store.RequestWorkflowCancellation(ctx, workflowID)
}

// Status returns the current workflow row.
func (c *Coordinator) Status(ctx context.Context, workflowID string) (*storage.Workflow, error) {
	return c.store.GetWorkflow(ctx, workflowID)
}

// Contracts returns every contract generated for a workflow.
func (c *Coordinator) Contracts(ctx context.Context, workflowID string) ([]*storage.GeneratedContract, error) {
	return c.store.ListContractsByWorkflow(ctx, workflowID)
}

// Deployments returns every deployment record for a workflow.
func (c *Coordinator) Deployments(ctx context.Context, workflowID string) ([]*storage.DeploymentRecord, error) {
	return c.store.ListDeploymentsByWorkflow(ctx, workflowID)
}

// Shutdown waits for every dispatched orchestration goroutine to return.
// Cancellation of individual workflows is cooperative (spec.md §5); this
// does not abort them, it only blocks until they reach a terminal state
// on their own.
func (c *Coordinator) Shutdown() {
	c.wg.Wait()
}

func (c *Coordinator) publishCreated(ctx context.Context, workflowID string) {
	if c.bus == nil {
		return
	}
	evt, err := eventbus.NewEvent(eventbus.TypeWorkflowCreated, workflowID, "", nil)
	if err != nil {
		c.logger.Warn("failed to build workflow.created event", "error", err)
		return
	}
	if err := c.bus.Publish(ctx, evt); err != nil {
		c.logger.Warn("failed to publish workflow.created event", "workflow_id", workflowID, "error", err)
	}
}
