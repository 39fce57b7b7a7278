// Package httpapi implements the engine's public HTTP+WebSocket contract
// (spec.md §6): workflow submission and lookup, direct batch deployment,
// network feature introspection, and per-workflow event streaming. It is a
// thin translation layer — every handler delegates to the coordinator,
// scheduler, or network registry it was constructed with.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainforge/contractforge/eventbus"
	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/scheduler"
	"github.com/chainforge/contractforge/stage"
	"github.com/chainforge/contractforge/storage"
)

// Coordinator is the subset of coordinator.Coordinator the API surfaces.
type Coordinator interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Cancel(ctx context.Context, workflowID string) error
	Status(ctx context.Context, workflowID string) (*storage.Workflow, error)
	Contracts(ctx context.Context, workflowID string) ([]*storage.GeneratedContract, error)
	Deployments(ctx context.Context, workflowID string) ([]*storage.DeploymentRecord, error)
}

// CreateRequest and CreateResult mirror coordinator.Request/CreateResult.
// httpapi declares its own copies so it never has to import the
// coordinator package just for two struct shapes, matching the narrow,
// point-of-use interface style the rest of the engine uses.
type CreateRequest struct {
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

type CreateResult struct {
	WorkflowID   string
	Warnings     []string
	FeaturesUsed map[network.Feature]bool
}

// BatchScheduler is the subset of scheduler.Scheduler the direct
// /deployments/batch endpoint needs, narrowed for testability.
type BatchScheduler interface {
	Run(ctx context.Context, network, deployer, privateKey string, contracts []scheduler.ContractInput, maxParallel int) *scheduler.Result
}

// HealthChecker reports one subsystem's liveness for /health/detailed.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Server wires the HTTP API's dependencies and exposes a chi.Router.
type Server struct {
	coordinator Coordinator
	scheduler   BatchScheduler
	networks    *network.Registry
	bus         *eventbus.Bus
	health      map[string]HealthChecker
	logger      *slog.Logger
	upgrader    wsUpgrader
	registerer  prometheus.Gatherer
}

// New constructs a Server. bus may be nil, in which case /ws/workflow/{id}
// always returns 503. logger may be nil. /metrics serves
// prometheus.DefaultGatherer unless WithGatherer replaces it; a nil
// gatherer leaves /metrics unregistered.
func New(coord Coordinator, sched BatchScheduler, networks *network.Registry, bus *eventbus.Bus, health map[string]HealthChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		coordinator: coord,
		scheduler:   sched,
		networks:    networks,
		bus:         bus,
		health:      health,
		logger:      logger,
		upgrader:    newWSUpgrader(),
		registerer:  prometheus.DefaultGatherer,
	}
}

// WithGatherer overrides the Prometheus gatherer /metrics serves from,
// primarily so tests can use an isolated registry instead of the process
// default.
func (s *Server) WithGatherer(g prometheus.Gatherer) *Server {
	s.registerer = g
	return s
}

// Router assembles the chi.Router serving every endpoint in spec.md §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/generate", s.handleCreateWorkflow)
		r.Get("/{id}", s.handleWorkflowStatus)
		r.Get("/{id}/contracts", s.handleWorkflowContracts)
		r.Get("/{id}/deployments", s.handleWorkflowDeployments)
		r.Post("/{id}/cancel", s.handleCancelWorkflow)
	})
	r.Post("/deployments/batch", s.handleBatchDeploy)
	r.Get("/networks", s.handleListNetworks)
	r.Get("/networks/{network}/features", s.handleNetworkFeatures)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Get("/ws/workflow/{id}", s.handleWorkflowStream)
	if s.registerer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registerer, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusForErr(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
