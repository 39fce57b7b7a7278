package chainrpc

import (
	"context"
	"math/big"
)

// TxRequest is the unsigned transaction the Deployment stage assembles
// before handing it to a Signer. To is nil for contract creation.
type TxRequest struct {
	To      *string
	Data    []byte
	Nonce   uint64
	Gas     uint64
	Fees    FeeFields
	ChainID *big.Int
}

// Signer produces a signed, RLP-encoded raw transaction ready for
// SendRawTransaction. contractforge keeps key custody behind this
// interface rather than hand-rolling secp256k1 signing in-process: none
// of the retrieved reference repositories vendor an Ethereum signing
// library, and elliptic-curve signing code is exactly the kind of thing
// that should come from an audited, purpose-built dependency (a KMS
// client or an Ethereum SDK) rather than be reimplemented here. See
// DESIGN.md for the full rationale.
type Signer interface {
	SignTransaction(ctx context.Context, privateKeyHex string, tx TxRequest) (rawTxHex string, err error)
}
