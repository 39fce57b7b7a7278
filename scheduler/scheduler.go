package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainforge/contractforge/metrics"
	"github.com/chainforge/contractforge/tracing"
)

// DeployRequest is one contract's deployment, pre-assigned a nonce so
// concurrent cohort members never race the deployer's nonce sequence.
type DeployRequest struct {
	Contract        ContractInput
	Network         string
	DeployerAddress string
	PrivateKey      string
	Nonce           uint64
}

// DeployResult is one contract's successful deployment outcome.
type DeployResult struct {
	Address     string
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Nonce       uint64
}

// Deployer submits one contract's deployment transaction and waits for
// confirmation. Implemented by the Deployment stage's single-contract
// path so the scheduler never duplicates transaction-construction logic.
type Deployer interface {
	Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error)
}

// NonceSource hands out the next nonce for a (network, deployer) pair.
// chainrpc.NonceManager satisfies this directly.
type NonceSource interface {
	Next(ctx context.Context, network, deployer string) (uint64, error)
}

// Outcome is one contract's result within a batch deploy, including which
// dependency layer it ran in.
type Outcome struct {
	ContractName string
	Layer        int
	Result       *DeployResult
	Error        string
}

// Result is the aggregated outcome of one batch run.
type Result struct {
	Deployments     []Outcome
	TotalTimeMillis int64
	SuccessCount    int
	FailedCount     int
	BatchesDeployed int
}

// Scheduler deploys a batch of contracts cohort by cohort: all contracts
// in one dependency layer run concurrently (bounded by maxParallel), and
// layer k+1 never starts until every contract in layer k has either
// succeeded or permanently failed.
type Scheduler struct {
	deployer Deployer
	nonces   NonceSource
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer
}

// New constructs a Scheduler. logger may be nil.
func New(deployer Deployer, nonces NonceSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{deployer: deployer, nonces: nonces, logger: logger, tracer: tracing.New("contractforge.scheduler")}
}

// WithMetrics attaches a metrics.Metrics instance; each cohort's size is
// observed against it as it's scheduled. Safe to call with nil.
func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Run deploys contracts, grouped into dependency-respecting cohorts when
// the batch's import graph is acyclic, or sequentially in input order
// (logging a warning) when a cycle is detected, per spec.md §4.6.
func (s *Scheduler) Run(ctx context.Context, network, deployer, privateKey string, contracts []ContractInput, maxParallel int) *Result {
	start := time.Now()

	layers := buildLayers(contracts)
	if !layers.ok {
		s.logger.Warn("batch dependency graph has a cycle, falling back to sequential deployment", "network", network)
		layers = layerResult{layers: sequentialLayers(contracts), ok: true}
	}

	if maxParallel < 1 {
		maxParallel = 1
	}

	result := &Result{BatchesDeployed: len(layers.layers)}
	aborted := false

	for layerIdx, layer := range layers.layers {
		if aborted {
			for _, c := range layer {
				result.Deployments = append(result.Deployments, Outcome{
					ContractName: c.ContractName,
					Layer:        layerIdx,
					Error:        "skipped: prior layer failed",
				})
				result.FailedCount++
			}
			continue
		}

		s.metrics.ObserveCohort(network, len(layer))
		if s.metrics != nil {
			s.metrics.CohortsRunning.Inc()
		}
		outcomes, layerFailed := s.runLayer(ctx, network, deployer, privateKey, layer, layerIdx, maxParallel)
		if s.metrics != nil {
			s.metrics.CohortsRunning.Dec()
		}
		result.Deployments = append(result.Deployments, outcomes...)
		for _, o := range outcomes {
			if o.Result != nil {
				result.SuccessCount++
			} else {
				result.FailedCount++
			}
		}
		if layerFailed {
			aborted = true
		}
	}

	result.TotalTimeMillis = time.Since(start).Milliseconds()
	return result
}

func (s *Scheduler) runLayer(ctx context.Context, network, deployer, privateKey string, layer []ContractInput, layerIdx, maxParallel int) ([]Outcome, bool) {
	outcomes := make([]Outcome, len(layer))
	sem := semaphore.NewWeighted(int64(maxParallel))
	g, gctx := errgroup.WithContext(ctx)
	var failed atomic.Bool

	for i, c := range layer {
		i, c := i, c
		if err := sem.Acquire(gctx, 1); err != nil {
			outcomes[i] = Outcome{ContractName: c.ContractName, Layer: layerIdx, Error: err.Error()}
			failed.Store(true)
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)

			spanCtx, span := s.tracer.Start(gctx, "deployment.deploy",
				attribute.String("contract.name", c.ContractName),
				attribute.Int("layer", layerIdx),
				attribute.String("network", network),
			)
			var deployErr error
			defer func() { tracing.End(span, deployErr) }()

			nonce, err := s.nonces.Next(spanCtx, network, deployer)
			if err != nil {
				deployErr = err
				outcomes[i] = Outcome{ContractName: c.ContractName, Layer: layerIdx, Error: err.Error()}
				failed.Store(true)
				return nil
			}

			deployResult, err := s.deployer.Deploy(spanCtx, DeployRequest{
				Contract: c, Network: network, DeployerAddress: deployer, PrivateKey: privateKey, Nonce: nonce,
			})
			if err != nil {
				deployErr = err
				outcomes[i] = Outcome{ContractName: c.ContractName, Layer: layerIdx, Error: err.Error()}
				failed.Store(true)
				return nil
			}
			outcomes[i] = Outcome{ContractName: c.ContractName, Layer: layerIdx, Result: deployResult}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, failed.Load()
}

// sequentialLayers puts every contract in its own single-item layer,
// preserving input order, for the cycle-detected fallback path.
func sequentialLayers(contracts []ContractInput) [][]ContractInput {
	layers := make([][]ContractInput, len(contracts))
	for i, c := range contracts {
		layers[i] = []ContractInput{c}
	}
	return layers
}
