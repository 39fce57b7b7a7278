package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/chainforge/contractforge/audittools"
	"github.com/chainforge/contractforge/chainrpc"
	"github.com/chainforge/contractforge/compiler"
	"github.com/chainforge/contractforge/config"
	"github.com/chainforge/contractforge/coordinator"
	"github.com/chainforge/contractforge/eigenda"
	"github.com/chainforge/contractforge/eventbus"
	"github.com/chainforge/contractforge/httpapi"
	"github.com/chainforge/contractforge/llm"
	_ "github.com/chainforge/contractforge/llm/providers"
	"github.com/chainforge/contractforge/metrics"
	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/orchestrator"
	"github.com/chainforge/contractforge/rag"
	"github.com/chainforge/contractforge/scheduler"
	"github.com/chainforge/contractforge/stage"
	"github.com/chainforge/contractforge/storage"
	"github.com/chainforge/contractforge/testrunner"
)

// unconfiguredSigner is handed to the Deployment stage when no transaction
// signer is configured. None of the retrieved reference repositories vendor
// an Ethereum signing library (see chainrpc/signer.go); an operator who
// needs live deployments plugs in their own chainrpc.Signer (a KMS client
// or an Ethereum SDK wrapper) built against that interface.
type unconfiguredSigner struct{}

func (unconfiguredSigner) SignTransaction(ctx context.Context, privateKeyHex string, tx chainrpc.TxRequest) (string, error) {
	return "", fmt.Errorf("no transaction signer configured: see chainrpc.Signer")
}

// deploymentStageProxy breaks the construction cycle between
// scheduler.Scheduler and stage.DeploymentStage: the scheduler is built
// against this proxy before the stage exists, and the proxy's target is
// filled in immediately afterward.
type deploymentStageProxy struct {
	stage *stage.DeploymentStage
}

func (p *deploymentStageProxy) Deploy(ctx context.Context, req scheduler.DeployRequest) (*scheduler.DeployResult, error) {
	return p.stage.Deploy(ctx, req)
}

// storeHealthChecker adapts *storage.Store to httpapi.HealthChecker.
type storeHealthChecker struct{ store *storage.Store }

func (h storeHealthChecker) Check(ctx context.Context) error {
	return h.store.Pool().Ping(ctx)
}

// busHealthChecker adapts *eventbus.Bus to httpapi.HealthChecker.
type busHealthChecker struct{ bus *eventbus.Bus }

func (h busHealthChecker) Check(ctx context.Context) error {
	if h.bus == nil {
		return fmt.Errorf("event bus not connected")
	}
	return nil
}

// coordinatorAdapter satisfies httpapi.Coordinator by translating between
// httpapi's request/result shapes and coordinator's own, so httpapi never
// has to import the coordinator package directly.
type coordinatorAdapter struct{ c *coordinator.Coordinator }

func (a coordinatorAdapter) Create(ctx context.Context, req httpapi.CreateRequest) (*httpapi.CreateResult, error) {
	res, err := a.c.Create(ctx, coordinator.Request{
		NLPDescription:      req.NLPDescription,
		Network:             req.Network,
		ContractType:        req.ContractType,
		OptimizeForMetisVM:  req.OptimizeForMetisVM,
		EnableFloatingPoint: req.EnableFloatingPoint,
		EnableAIInference:   req.EnableAIInference,
		AuditLevel:          req.AuditLevel,
		StrictTesting:       req.StrictTesting,
		DeployerAddress:     req.DeployerAddress,
		PrivateKey:          req.PrivateKey,
		GasLimit:            req.GasLimit,
		BatchContracts:      req.BatchContracts,
		MaxParallel:         req.MaxParallel,
	})
	if err != nil {
		return nil, err
	}
	return &httpapi.CreateResult{WorkflowID: res.WorkflowID, Warnings: res.Warnings, FeaturesUsed: res.FeaturesUsed}, nil
}

func (a coordinatorAdapter) Cancel(ctx context.Context, workflowID string) error {
	return a.c.Cancel(ctx, workflowID)
}

func (a coordinatorAdapter) Status(ctx context.Context, workflowID string) (*storage.Workflow, error) {
	return a.c.Status(ctx, workflowID)
}

func (a coordinatorAdapter) Contracts(ctx context.Context, workflowID string) ([]*storage.GeneratedContract, error) {
	return a.c.Contracts(ctx, workflowID)
}

func (a coordinatorAdapter) Deployments(ctx context.Context, workflowID string) ([]*storage.DeploymentRecord, error) {
	return a.c.Deployments(ctx, workflowID)
}

// App wires together every component the engine needs: storage, the event
// bus, the network feature registry, the LLM client, every pipeline stage,
// the orchestrator, the coordinator, and the HTTP API server. Constructed
// once at startup, mirroring the teacher's App.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store *storage.Store
	bus   *eventbus.Bus

	networks    *network.Registry
	metrics     *metrics.Metrics
	coordinator *coordinator.Coordinator
	server      *httpapi.Server
}

// NewApp constructs every dependency but does not yet connect to external
// systems; call Start to dial Postgres and NATS.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Start connects to Postgres and NATS, loads the network feature registry,
// and wires every stage, the orchestrator, the coordinator, and the HTTP
// API. It does not start serving HTTP; call Serve for that.
func (a *App) Start(ctx context.Context) error {
	store, err := storage.NewStore(ctx, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	a.store = store

	bus, err := eventbus.Connect(a.cfg.EventBus.URL, eventbus.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	if err := bus.EnsureStreams(ctx, a.cfg.EventBus.StreamMaxAge); err != nil {
		return fmt.Errorf("ensure event streams: %w", err)
	}
	a.bus = bus

	networks := network.NewDefaultRegistry()
	if a.cfg.Networks.SeedFile != "" {
		if err := loadNetworkSeedFile(networks, a.cfg.Networks.SeedFile); err != nil {
			return fmt.Errorf("load network seed file: %w", err)
		}
	}
	a.networks = networks

	m := metrics.New(prometheus.DefaultRegisterer)
	a.metrics = m

	modelRegistry := a.cfg.ModelRegistry()
	llmClient := llm.NewClient(modelRegistry,
		llm.WithLogger(a.logger),
		llm.WithCallObserver(func(ctx context.Context, rec *llm.CallRecord) {
			a.logger.Debug("llm call", "provider", rec.Provider, "model", rec.Model, "duration_ms", rec.DurationMs)
		}),
	)

	embeddings := llm.GetEmbeddingProvider("openai")
	retriever := rag.New(embeddings, store, a.logger)

	solc := compiler.NewSolcCompiler(compiler.PathResolver{Binaries: a.cfg.Compiler.Binaries})

	auditRunner := audittools.NewRunner(
		&audittools.StaticAnalyzer{BinaryPath: a.cfg.AuditTools.StaticAnalyzerPath, Args: a.cfg.AuditTools.StaticAnalyzerArgs},
		&audittools.SymbolicExecutor{BinaryPath: a.cfg.AuditTools.SymbolicExecPath, Args: a.cfg.AuditTools.SymbolicExecArgs},
		&audittools.Fuzzer{BinaryPath: a.cfg.AuditTools.FuzzerPath, Args: a.cfg.AuditTools.FuzzerArgs},
		a.logger,
	)

	forgeRunner := testrunner.NewForgeRunner(a.cfg.Testing.ForgeBinaryPath, a.cfg.Testing.ForgeArgs)

	// rpcRouter resolves a distinct chainrpc.Client per target network, keyed
	// by network.Registry's own per-network RPCEndpoint, falling back to
	// a.cfg.ChainRPC.Endpoint for networks that don't register their own
	// (e.g. a custom network registered without an endpoint override).
	rpcRouter := chainrpc.NewRouter(networks, a.cfg.ChainRPC.Endpoint, nil)
	nonces := chainrpc.NewNonceManagerWithResolver(rpcRouter)

	var eigenClient stage.EigenDAClient
	if a.cfg.EigenDA.Endpoint != "" {
		eigenClient = eigenda.NewHTTPClient(a.cfg.EigenDA.Endpoint, nil)
	}

	// The scheduler and the deployment stage reference each other (the
	// scheduler deploys a cohort through the stage's single-contract path,
	// the stage delegates a batch request to the scheduler), so one side
	// has to be wired through a proxy constructed before its target exists.
	deployerProxy := &deploymentStageProxy{}
	sched := scheduler.New(deployerProxy, nonces, a.logger).WithMetrics(m)
	deploymentStage := stage.NewDeploymentStageWithResolver(stage.NewRPCClientResolver(rpcRouter), nonces, unconfiguredSigner{}, networks, eigenClient, sched, bus, a.logger)
	deployerProxy.stage = deploymentStage

	registry := stage.NewServiceRegistry()
	registry.Register(stage.NewGenerationStage(llmClient, retriever, networks, bus, a.logger))
	registry.Register(stage.NewCompilationStage(solc, bus, a.logger))
	registry.Register(stage.NewAuditStage(auditRunner, bus, a.logger))
	registry.Register(stage.NewTestingStage(forgeRunner, bus, a.logger))
	registry.Register(deploymentStage)

	policy := orchestrator.StagePolicy{FatalOnAudit: false}
	orch := orchestrator.New(registry, store, bus, policy, a.logger).WithMetrics(m)

	coord := coordinator.New(orch, store, networks, bus, a.logger)
	a.coordinator = coord

	health := map[string]httpapi.HealthChecker{
		"storage":  storeHealthChecker{store: store},
		"eventbus": busHealthChecker{bus: bus},
	}
	a.server = httpapi.New(coordinatorAdapter{c: coord}, sched, networks, bus, health, a.logger)

	return nil
}

// Serve blocks, serving the HTTP+WebSocket API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	return serveHTTP(ctx, a.cfg.HTTP.Addr, a.server.Router(), a.logger)
}

// Shutdown drains in-flight workflow goroutines and closes every external
// connection, bounded by timeout.
func (a *App) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		if a.coordinator != nil {
			a.coordinator.Shutdown()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		a.logger.Warn("shutdown timed out waiting for in-flight workflows")
	}

	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func loadNetworkSeedFile(registry *network.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	seeds := make(map[string]*network.NetworkConfig)
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("parse network seed file: %w", err)
	}
	for id, cfg := range seeds {
		registry.Register(id, cfg)
	}
	return nil
}
