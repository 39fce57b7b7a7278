package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CreateAuditRecord persists the combined audit outcome for a contract.
func (s *Store) CreateAuditRecord(ctx context.Context, a *AuditRecord) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	findingsJSON, err := json.Marshal(a.Findings)
	if err != nil {
		return "", fmt.Errorf("marshal findings: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_records (id, workflow_id, contract_id, findings, risk_score, status, passed, tool_errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		a.ID, a.WorkflowID, a.ContractID, findingsJSON, a.RiskScore, a.Status, a.Passed, a.ToolErrors)
	if err != nil {
		return "", fmt.Errorf("insert audit record: %w", err)
	}
	return a.ID, nil
}

func scanAuditRecord(row interface {
	Scan(dest ...any) error
}) (*AuditRecord, error) {
	var a AuditRecord
	var findingsJSON []byte
	if err := row.Scan(&a.ID, &a.WorkflowID, &a.ContractID, &findingsJSON, &a.RiskScore, &a.Status, &a.Passed, &a.ToolErrors, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(findingsJSON, &a.Findings); err != nil {
		return nil, fmt.Errorf("unmarshal findings: %w", err)
	}
	return &a, nil
}

const auditColumns = `id, workflow_id, contract_id, findings, risk_score, status, passed, tool_errors, created_at`

// GetAuditRecord fetches an audit record by ID.
func (s *Store) GetAuditRecord(ctx context.Context, id string) (*AuditRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE id = $1`, id)
	a, err := scanAuditRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return a, nil
}

// GetAuditRecordByContract fetches the most recent audit for a contract.
func (s *Store) GetAuditRecordByContract(ctx context.Context, contractID string) (*AuditRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE contract_id = $1 ORDER BY created_at DESC LIMIT 1`, contractID)
	a, err := scanAuditRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get audit record by contract: %w", err)
	}
	return a, nil
}
