package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateContract persists a generated contract and returns its ID.
func (s *Store) CreateContract(ctx context.Context, c *GeneratedContract) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generated_contracts (id, workflow_id, name, source_code, source_code_hash, pragma_version, constructor_args, template_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), now())`,
		c.ID, c.WorkflowID, c.Name, c.SourceCode, c.SourceCodeHash, c.PragmaVersion, c.ConstructorArgs, c.TemplateID)
	if err != nil {
		return "", fmt.Errorf("insert generated contract: %w", err)
	}
	return c.ID, nil
}

// SetContractCompilationResult records the compiler output for a generated contract.
func (s *Store) SetContractCompilationResult(ctx context.Context, id string, abi []byte, bytecode, deployedBytecode, solidityVersion string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generated_contracts
		SET abi = $2, bytecode = $3, deployed_bytecode = $4, solidity_version = $5
		WHERE id = $1`, id, abi, bytecode, deployedBytecode, solidityVersion)
	if err != nil {
		return fmt.Errorf("set contract compilation result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanContract(row interface {
	Scan(dest ...any) error
}) (*GeneratedContract, error) {
	var c GeneratedContract
	var abi []byte
	var bytecode, deployedBytecode, solidityVersion *string
	if err := row.Scan(&c.ID, &c.WorkflowID, &c.Name, &c.SourceCode, &c.SourceCodeHash, &c.PragmaVersion,
		&c.ConstructorArgs, &c.TemplateID, &abi, &bytecode, &deployedBytecode, &solidityVersion, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ABI = abi
	if bytecode != nil {
		c.Bytecode = *bytecode
	}
	if deployedBytecode != nil {
		c.DeployedBytecode = *deployedBytecode
	}
	if solidityVersion != nil {
		c.SolidityVersion = *solidityVersion
	}
	return &c, nil
}

const contractColumns = `id, workflow_id, name, source_code, source_code_hash, pragma_version,
	constructor_args, COALESCE(template_id, ''), abi, bytecode, deployed_bytecode, solidity_version, created_at`

// GetContract fetches a generated contract by ID.
func (s *Store) GetContract(ctx context.Context, id string) (*GeneratedContract, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM generated_contracts WHERE id = $1`, id)

	c, err := scanContract(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get generated contract: %w", err)
	}
	return c, nil
}

// ListContractsByWorkflow returns every contract generated for a workflow, in creation order.
func (s *Store) ListContractsByWorkflow(ctx context.Context, workflowID string) ([]*GeneratedContract, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+contractColumns+` FROM generated_contracts WHERE workflow_id = $1 ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list generated contracts: %w", err)
	}
	defer rows.Close()

	var out []*GeneratedContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generated contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
