package stage

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainforge/contractforge/chainrpc"
	"github.com/chainforge/contractforge/eigenda"
	"github.com/chainforge/contractforge/eventbus"
	"github.com/chainforge/contractforge/network"
	"github.com/chainforge/contractforge/scheduler"
)

// receiptTimeout bounds how long the stage waits for a deployment
// transaction to confirm, per spec.md §4.4.5 step 4.
const receiptTimeout = 300 * time.Second

// RPCClient is the subset of chainrpc.Client (or chainrpc.BreakingClient)
// the stage needs to construct and submit a deployment transaction.
type RPCClient interface {
	SuggestFees(ctx context.Context) (chainrpc.FeeFields, error)
	EstimateGas(ctx context.Context, from, data string) (uint64, error)
	SendRawTransaction(ctx context.Context, rawTxHex string) (string, error)
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*chainrpc.Receipt, error)
}

// RPCClientResolver resolves the RPCClient to submit a given network's
// deployment transactions through. *chainrpc.Router satisfies this
// directly; it is what lets one engine process deploy to multiple
// networks (each with its own RPC endpoint) instead of sharing a single
// client regardless of target network.
type RPCClientResolver interface {
	For(network string) (RPCClient, error)
}

// staticRPCResolver adapts a single RPCClient into a resolver that ignores
// its network argument, for callers that only ever deploy to one network.
type staticRPCResolver struct{ client RPCClient }

func (s staticRPCResolver) For(string) (RPCClient, error) { return s.client, nil }

// chainRPCRouter is the subset of *chainrpc.Router's signature this
// package resolves against; declared narrowly so stage doesn't need to
// import chainrpc.Router's concrete type to accept it.
type chainRPCRouter interface {
	For(network string) (chainrpc.Client, error)
}

// routerResolver adapts a chainRPCRouter (typically *chainrpc.Router) to
// RPCClientResolver. A plain type assertion won't do this automatically:
// interface-returning methods must match signatures exactly to satisfy an
// interface, even though chainrpc.Client's method set is a superset of
// RPCClient's.
type routerResolver struct{ router chainRPCRouter }

// NewRPCClientResolver wraps router (typically *chainrpc.Router) so it can
// be passed to NewDeploymentStage as an RPCClientResolver.
func NewRPCClientResolver(router chainRPCRouter) RPCClientResolver {
	return routerResolver{router: router}
}

func (r routerResolver) For(network string) (RPCClient, error) {
	return r.router.For(network)
}

// NonceSource hands out the next nonce for a (network, deployer) pair.
type NonceSource interface {
	Next(ctx context.Context, network, deployer string) (uint64, error)
}

// Signer produces a signed raw transaction. See chainrpc.Signer for why
// contractforge delegates key custody to this interface rather than
// implementing secp256k1 signing in-process.
type Signer interface {
	SignTransaction(ctx context.Context, privateKeyHex string, tx chainrpc.TxRequest) (rawTxHex string, err error)
}

// EigenDAClient disperses a confirmed deployment's metadata blob.
type EigenDAClient interface {
	Disperse(ctx context.Context, blob eigenda.Blob) (eigenda.Commitment, error)
}

// BatchScheduler runs a multi-contract deployment through the Parallel
// Deployment Scheduler.
type BatchScheduler interface {
	Run(ctx context.Context, network, deployer, privateKey string, contracts []scheduler.ContractInput, maxParallel int) *scheduler.Result
}

// DeploymentStage submits a compiled contract's creation transaction to
// the target network, and delegates to the Parallel Deployment Scheduler
// for multi-contract batches on networks that support it.
type DeploymentStage struct {
	rpc      RPCClientResolver
	nonces   NonceSource
	signer   Signer
	networks *network.Registry
	eigen    EigenDAClient
	batch    BatchScheduler
	bus      *eventbus.Bus
	logger   *slog.Logger
}

// NewDeploymentStage constructs a DeploymentStage against a single RPC
// client shared by every network. Kept for callers that only ever deploy
// to one network; multi-network deployments should use
// NewDeploymentStageWithResolver against a chainrpc.Router instead. eigen
// and batch may be nil; a nil batch scheduler means multi-contract
// requests always deploy sequentially regardless of network feature
// support. logger may be nil.
func NewDeploymentStage(rpc RPCClient, nonces NonceSource, signer Signer, networks *network.Registry, eigen EigenDAClient, batch BatchScheduler, bus *eventbus.Bus, logger *slog.Logger) *DeploymentStage {
	return NewDeploymentStageWithResolver(staticRPCResolver{client: rpc}, nonces, signer, networks, eigen, batch, bus, logger)
}

// NewDeploymentStageWithResolver constructs a DeploymentStage that
// resolves a distinct RPCClient per target network via rpc (typically
// NewRPCClientResolver wrapping a *chainrpc.Router), so a single engine
// process can deploy correctly to several networks at once instead of
// sharing one RPC endpoint regardless of target network.
func NewDeploymentStageWithResolver(rpc RPCClientResolver, nonces NonceSource, signer Signer, networks *network.Registry, eigen EigenDAClient, batch BatchScheduler, bus *eventbus.Bus, logger *slog.Logger) *DeploymentStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeploymentStage{rpc: rpc, nonces: nonces, signer: signer, networks: networks, eigen: eigen, batch: batch, bus: bus, logger: logger}
}

func (s *DeploymentStage) Name() Name { return NameDeployment }

func (s *DeploymentStage) Validate(_ context.Context, wf *Context) error {
	if wf.Network == "" {
		return NewError(s.Name(), KindValidation, fmt.Errorf("network is required"))
	}
	if _, ok := s.networks.Get(wf.Network); !ok {
		return NewError(s.Name(), KindValidation, fmt.Errorf("unknown network %q", wf.Network))
	}
	if wf.DeployerAddress == "" || wf.PrivateKey == "" {
		return NewError(s.Name(), KindValidation, fmt.Errorf("deployer_address and private_key are required"))
	}
	if len(wf.BatchContracts) == 0 {
		if wf.CompiledContract == nil || wf.CompiledContract.Bytecode == "" || len(wf.CompiledContract.ABI) == 0 {
			return NewError(s.Name(), KindValidation, fmt.Errorf("compiled_contract must contain both abi and bytecode"))
		}
	}
	return nil
}

func (s *DeploymentStage) Process(ctx context.Context, wf *Context) error {
	s.publish(ctx, wf.WorkflowID, eventbus.TypeDeploymentStarted, map[string]any{"network": wf.Network})

	if len(wf.BatchContracts) > 0 && s.batch != nil && s.networks.Supports(wf.Network, network.FeatureBatchDeployment) {
		return s.processBatch(ctx, wf)
	}
	return s.processSingle(ctx, wf)
}

func (s *DeploymentStage) processSingle(ctx context.Context, wf *Context) error {
	nonce, err := s.nonces.Next(ctx, wf.Network, wf.DeployerAddress)
	if err != nil {
		wrapped := NewError(s.Name(), KindNetworkTransient, fmt.Errorf("allocate nonce: %w", err))
		s.publish(ctx, wf.WorkflowID, eventbus.TypeDeploymentFailed, map[string]any{"error": err.Error()})
		return wrapped
	}

	result, err := s.deploy(ctx, deployInput{
		contractName:     wf.CompiledContract.ContractName,
		abi:              wf.CompiledContract.ABI,
		bytecode:         wf.CompiledContract.Bytecode,
		constructorArgs:  wf.ConstructorArgs,
		network:          wf.Network,
		deployerAddress:  wf.DeployerAddress,
		privateKey:       wf.PrivateKey,
		gasLimit:         wf.GasLimit,
		nonce:            nonce,
	})
	if err != nil {
		wrapped := classifyDeployError(s.Name(), err)
		s.publish(ctx, wf.WorkflowID, eventbus.TypeDeploymentFailed, map[string]any{"error": err.Error()})
		return wrapped
	}

	wf.DeploymentResult = result

	if s.eigen != nil && s.networks.Supports(wf.Network, network.FeatureEigenDA) {
		eigenda.SubmitInBackground(&eigenDAAdapter{s.eigen}, s.logger, eigenda.Blob{
			WorkflowID:      wf.WorkflowID,
			ContractAddress: result.Address,
			ABI:             wf.CompiledContract.ABI,
			SourceCode:      wf.ContractCode,
			Network:         wf.Network,
			TxHash:          result.TxHash,
		}, func(commitment eigenda.Commitment, err error) {
			if err == nil {
				result.EigenDACommitment = commitment.ID
			}
		})
	}

	s.publish(ctx, wf.WorkflowID, eventbus.TypeDeploymentConfirmed, map[string]any{
		"address": result.Address, "tx_hash": result.TxHash,
	})
	return nil
}

// eigenDAAdapter satisfies eigenda.Client from the stage-local EigenDAClient
// interface; both have the same method, but eigenda.SubmitInBackground is
// typed against the package's own interface.
type eigenDAAdapter struct {
	client EigenDAClient
}

func (a *eigenDAAdapter) Disperse(ctx context.Context, blob eigenda.Blob) (eigenda.Commitment, error) {
	return a.client.Disperse(ctx, blob)
}

func (s *DeploymentStage) processBatch(ctx context.Context, wf *Context) error {
	contracts := make([]scheduler.ContractInput, 0, len(wf.BatchContracts))
	for _, c := range wf.BatchContracts {
		input := scheduler.ContractInput{
			ContractName: c.ContractName,
			SourceCode:   c.SourceCode,
			Dependencies: c.Dependencies,
		}
		if c.CompiledContract != nil {
			input.ABI = c.CompiledContract.ABI
			input.Bytecode = c.CompiledContract.Bytecode
			input.DeployedBytecode = c.CompiledContract.DeployedBytecode
		}
		contracts = append(contracts, input)
	}

	maxParallel := wf.MaxParallel
	if maxParallel < 1 {
		maxParallel = 4
	}

	result := s.batch.Run(ctx, wf.Network, wf.DeployerAddress, wf.PrivateKey, contracts, maxParallel)

	outcomes := make([]BatchDeploymentOutcome, 0, len(result.Deployments))
	for _, o := range result.Deployments {
		outcome := BatchDeploymentOutcome{ContractName: o.ContractName, Layer: o.Layer, Error: o.Error}
		if o.Result != nil {
			outcome.Result = &DeploymentResult{
				Address:     o.Result.Address,
				TxHash:      o.Result.TxHash,
				BlockNumber: o.Result.BlockNumber,
				GasUsed:     o.Result.GasUsed,
				Nonce:       o.Result.Nonce,
			}
		}
		outcomes = append(outcomes, outcome)
	}
	wf.BatchResult = &BatchResult{
		Deployments:     outcomes,
		TotalTimeMillis: result.TotalTimeMillis,
		SuccessCount:    result.SuccessCount,
		FailedCount:     result.FailedCount,
		BatchesDeployed: result.BatchesDeployed,
	}

	if result.FailedCount > 0 && result.SuccessCount == 0 {
		err := NewError(s.Name(), KindNetworkFatal, fmt.Errorf("batch deployment failed: 0/%d contracts deployed", len(contracts)))
		s.publish(ctx, wf.WorkflowID, eventbus.TypeDeploymentFailed, map[string]any{"failed_count": result.FailedCount})
		return err
	}

	s.publish(ctx, wf.WorkflowID, eventbus.TypeDeploymentCompleted, map[string]any{
		"success_count": result.SuccessCount, "failed_count": result.FailedCount,
	})
	return nil
}

func (s *DeploymentStage) OnError(ctx context.Context, wf *Context, err error) {
	s.logger.Error("deployment stage failed", "workflow_id", wf.WorkflowID, "network", wf.Network, "error", err)
}

// Deploy implements scheduler.Deployer, letting the Parallel Deployment
// Scheduler submit each cohort member through the same single-contract
// algorithm the sequential path uses.
func (s *DeploymentStage) Deploy(ctx context.Context, req scheduler.DeployRequest) (*scheduler.DeployResult, error) {
	result, err := s.deploy(ctx, deployInput{
		contractName:    req.Contract.ContractName,
		abi:             req.Contract.ABI,
		bytecode:        req.Contract.Bytecode,
		constructorArgs: req.Contract.ConstructorArgs,
		network:         req.Network,
		deployerAddress: req.DeployerAddress,
		privateKey:      req.PrivateKey,
		nonce:           req.Nonce,
	})
	if err != nil {
		return nil, err
	}
	return &scheduler.DeployResult{
		Address: result.Address, TxHash: result.TxHash,
		BlockNumber: result.BlockNumber, GasUsed: result.GasUsed, Nonce: result.Nonce,
	}, nil
}

type deployInput struct {
	contractName    string
	abi             []byte
	bytecode        string
	constructorArgs []any
	network         string
	deployerAddress string
	privateKey      string
	gasLimit        uint64
	nonce           uint64
}

// deploy runs the single-contract algorithm from spec.md §4.4.5: build the
// creation transaction data, estimate or use the configured gas limit,
// sign, submit, and poll for a receipt.
func (s *DeploymentStage) deploy(ctx context.Context, in deployInput) (*DeploymentResult, error) {
	argData, err := encodeConstructorArgs(in.constructorArgs)
	if err != nil {
		return nil, fmt.Errorf("encode constructor args: %w", err)
	}

	bytecodeBytes, err := hex.DecodeString(trimHexPrefix(in.bytecode))
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	data := append(append([]byte{}, bytecodeBytes...), argData...)
	dataHex := "0x" + hex.EncodeToString(data)

	rpc, err := s.rpc.For(in.network)
	if err != nil {
		return nil, fmt.Errorf("resolve rpc client: %w", err)
	}
	breaking, _ := rpc.(*chainrpc.BreakingClient)

	fees, err := rpc.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}

	gas := in.gasLimit
	if gas == 0 {
		if breaking != nil {
			gas, err = breaking.EstimateGasFor(ctx, in.network, in.deployerAddress, in.deployerAddress, dataHex)
		} else {
			gas, err = rpc.EstimateGas(ctx, in.deployerAddress, dataHex)
		}
		if err != nil {
			return nil, err
		}
	}

	tx := chainrpc.TxRequest{
		To:    nil,
		Data:  data,
		Nonce: in.nonce,
		Gas:   gas,
		Fees:  fees,
	}
	rawTxHex, err := s.signer.SignTransaction(ctx, in.privateKey, tx)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	var txHash string
	if breaking != nil {
		txHash, err = breaking.SendRawTransactionFor(ctx, in.network, in.deployerAddress, rawTxHex)
	} else {
		txHash, err = rpc.SendRawTransaction(ctx, rawTxHex)
	}
	if err != nil {
		return nil, err
	}

	receipt, err := rpc.WaitForReceipt(ctx, txHash, receiptTimeout)
	if err != nil {
		return nil, err
	}
	if receipt.Status == 0 {
		return nil, fmt.Errorf("deployment reverted: tx %s", txHash)
	}

	return &DeploymentResult{
		Address:     receipt.ContractAddress,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Nonce:       in.nonce,
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// classifyDeployError maps an unclassified error from the rpc/signer path
// onto the stage error taxonomy, per spec.md §4.4.5's failure table.
// Errors that already carry a chainrpc classification are translated
// directly; anything else defaults to fatal, matching "revert /
// insufficient balance" as the conservative assumption.
func classifyDeployError(name Name, err error) error {
	if chainrpc.IsTransient(err) {
		return NewError(name, KindNetworkTransient, err)
	}
	if chainrpc.IsFatal(err) {
		return NewError(name, KindNetworkFatal, err)
	}
	return NewError(name, KindNetworkFatal, err)
}

func (s *DeploymentStage) publish(ctx context.Context, workflowID string, t eventbus.Type, data any) {
	if s.bus == nil {
		return
	}
	evt, err := eventbus.NewEvent(t, workflowID, string(s.Name()), data)
	if err != nil {
		s.logger.Warn("failed to build event", "type", t, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish event", "type", t, "error", err)
	}
}
