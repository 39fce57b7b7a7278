// Package eigenda submits deployment metadata blobs (ABI, source, and
// deployment info) to an EigenDA disperser as a background task after a
// deployment confirms. Per spec.md §4.4.5 step 5, EigenDA is purely
// additional data availability: failures here must never fail a
// deployment that already has an on-chain confirmation.
package eigenda

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Blob is the metadata submitted for one deployed contract.
type Blob struct {
	WorkflowID      string          `json:"workflow_id"`
	ContractAddress string          `json:"contract_address"`
	ABI             json.RawMessage `json:"abi"`
	SourceCode      string          `json:"source_code"`
	Network         string          `json:"network"`
	TxHash          string          `json:"tx_hash"`
}

// Commitment identifies a blob once the disperser has accepted it.
type Commitment struct {
	ID string
}

// Client disperses a blob to EigenDA and returns its commitment.
type Client interface {
	Disperse(ctx context.Context, blob Blob) (Commitment, error)
}

// SubmitInBackground dispatches blob to client on its own goroutine,
// decoupled from the caller's context so a deployment's own request
// context ending doesn't cancel an in-flight disperse call. onResult, if
// non-nil, is invoked with the outcome; it must not block.
func SubmitInBackground(client Client, logger *slog.Logger, blob Blob, onResult func(Commitment, error)) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		commitment, err := client.Disperse(context.Background(), blob)
		if err != nil {
			logger.Warn("eigenda submission failed, deployment remains confirmed",
				"workflow_id", blob.WorkflowID, "contract_address", blob.ContractAddress, "error", err)
		}
		if onResult != nil {
			onResult(commitment, err)
		}
	}()
}
