// Package chainrpc talks to an EVM-compatible node's JSON-RPC endpoint.
// It is deliberately the thinnest layer in contractforge: spec.md treats
// "the raw HTTP clients for LLM, disperser, and RPC endpoints" as external
// collaborators, not core orchestration logic, and go-ethereum isn't part
// of the retrieved dependency set this module draws on — so this package
// is a small stdlib net/http JSON-RPC client rather than a wrapper around
// an Ethereum SDK. Transaction signing is out of scope here: Client
// accepts an already-signed raw transaction from a Signer collaborator
// (typically a wallet or KMS integration), matching how production
// deployment pipelines keep key custody out of the RPC hot path.
package chainrpc

import (
	"context"
	"math/big"
	"time"
)

// Receipt is the subset of a transaction receipt the Deployment stage needs.
type Receipt struct {
	TxHash          string
	ContractAddress string
	BlockNumber     uint64
	GasUsed         uint64
	Status          uint64 // 1 = success, 0 = reverted
}

// FeeFields carries either a legacy gas price or EIP-1559 fee fields,
// whichever the network uses.
type FeeFields struct {
	GasPrice             *big.Int // legacy
	MaxFeePerGas         *big.Int // EIP-1559
	MaxPriorityFeePerGas *big.Int // EIP-1559
}

// Client is the narrow RPC surface the Deployment stage and scheduler need
// per contract deployment: nonce/fee lookups, gas estimation, raw
// transaction submission, and receipt polling.
type Client interface {
	NonceAt(ctx context.Context, address string) (uint64, error)
	SuggestFees(ctx context.Context) (FeeFields, error)
	EstimateGas(ctx context.Context, from, data string) (uint64, error)
	SendRawTransaction(ctx context.Context, rawTxHex string) (txHash string, err error)
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*Receipt, error)
}
