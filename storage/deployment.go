package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateDeploymentRecord persists a pending deployment slot for a contract.
func (s *Store) CreateDeploymentRecord(ctx context.Context, d *DeploymentRecord) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DeploymentStatusPending
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployment_records (id, workflow_id, contract_id, network, status, deployer_address, nonce, layer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		d.ID, d.WorkflowID, d.ContractID, d.Network, d.Status, d.DeployerAddress, d.Nonce, d.Layer)
	if err != nil {
		return "", fmt.Errorf("insert deployment record: %w", err)
	}
	return d.ID, nil
}

// UpdateDeploymentStatus transitions a deployment's status, optionally
// recording the resulting address/tx hash or failure reason.
func (s *Store) UpdateDeploymentStatus(ctx context.Context, id string, status DeploymentStatus, address, txHash, errMsg string) error {
	var confirmedAt *time.Time
	if status == DeploymentStatusConfirmed {
		now := time.Now()
		confirmedAt = &now
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE deployment_records
		SET status = $2, address = NULLIF($3, ''), tx_hash = NULLIF($4, ''), error = NULLIF($5, ''), confirmed_at = $6
		WHERE id = $1`, id, status, address, txHash, errMsg, confirmedAt)
	if err != nil {
		return fmt.Errorf("update deployment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeploymentReceipt records the block/gas details from a confirmed receipt.
func (s *Store) SetDeploymentReceipt(ctx context.Context, id string, blockNumber, gasUsed uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deployment_records SET block_number = $2, gas_used = $3 WHERE id = $1`, id, blockNumber, gasUsed)
	if err != nil {
		return fmt.Errorf("set deployment receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeploymentEigenDACommitment records the off-chain metadata blob commitment
// once the background EigenDA submission completes.
func (s *Store) SetDeploymentEigenDACommitment(ctx context.Context, id, commitment string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deployment_records SET eigenda_commitment = $2 WHERE id = $1`, id, commitment)
	if err != nil {
		return fmt.Errorf("set deployment eigenda commitment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDeployment(row interface {
	Scan(dest ...any) error
}) (*DeploymentRecord, error) {
	var d DeploymentRecord
	if err := row.Scan(&d.ID, &d.WorkflowID, &d.ContractID, &d.Network, &d.Status, &d.DeployerAddress, &d.Address, &d.TxHash,
		&d.Nonce, &d.Layer, &d.BlockNumber, &d.GasUsed, &d.EigenDACommitment, &d.Error, &d.CreatedAt, &d.ConfirmedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

const deploymentColumns = `id, workflow_id, contract_id, network, status, COALESCE(deployer_address, ''), COALESCE(address, ''), COALESCE(tx_hash, ''),
	nonce, layer, COALESCE(block_number, 0), COALESCE(gas_used, 0), COALESCE(eigenda_commitment, ''), COALESCE(error, ''), created_at, confirmed_at`

// ListDeploymentsByWorkflow returns every deployment record for a workflow, ordered by layer then creation.
func (s *Store) ListDeploymentsByWorkflow(ctx context.Context, workflowID string) ([]*DeploymentRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deploymentColumns+` FROM deployment_records WHERE workflow_id = $1 ORDER BY layer ASC, created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list deployment records: %w", err)
	}
	defer rows.Close()

	var out []*DeploymentRecord
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment record: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDeploymentRecord fetches a single deployment record by ID.
func (s *Store) GetDeploymentRecord(ctx context.Context, id string) (*DeploymentRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployment_records WHERE id = $1`, id)
	d, err := scanDeployment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deployment record: %w", err)
	}
	return d, nil
}
