package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateWorkflow inserts a new workflow in created status and returns its ID.
func (s *Store) CreateWorkflow(ctx context.Context, w *Workflow) (string, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = WorkflowStatusCreated
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, prompt, network, contract_type, status, current_stage, progress, warnings, features_requested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
		w.ID, w.Prompt, w.Network, w.ContractType, w.Status, string(w.CurrentStage), w.Progress, w.Warnings, w.FeaturesRequested)
	if err != nil {
		return "", fmt.Errorf("insert workflow: %w", err)
	}
	return w.ID, nil
}

func scanWorkflow(row interface {
	Scan(dest ...any) error
}) (*Workflow, error) {
	var w Workflow
	var stage, errMsg *string
	var featuresUsed []byte
	if err := row.Scan(&w.ID, &w.Prompt, &w.Network, &w.ContractType, &w.Status, &stage, &w.Progress,
		&errMsg, &w.Warnings, &w.FeaturesRequested, &featuresUsed, &w.CancelRequested,
		&w.CreatedAt, &w.UpdatedAt, &w.CompletedAt); err != nil {
		return nil, err
	}
	if stage != nil {
		w.CurrentStage = StageName(*stage)
	}
	if errMsg != nil {
		w.Error = *errMsg
	}
	w.FeaturesUsed = featuresUsed
	return &w, nil
}

// GetWorkflow fetches a workflow by ID.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, prompt, network, contract_type, status, current_stage, progress, error, warnings,
		       features_requested, features_used, cancel_requested, created_at, updated_at, completed_at
		FROM workflows WHERE id = $1`, id)

	w, err := scanWorkflow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return w, nil
}

// UpdateWorkflowStatus transitions a workflow's status and current stage.
func (s *Store) UpdateWorkflowStatus(ctx context.Context, id string, status WorkflowStatus, stage StageName) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET status = $2, current_stage = $3, updated_at = now()
		WHERE id = $1`, id, status, string(stage))
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateWorkflowProgress advances the progress milestone recorded for a workflow.
func (s *Store) UpdateWorkflowProgress(ctx context.Context, id string, progress int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET progress = $2, updated_at = now() WHERE id = $1`, id, progress)
	if err != nil {
		return fmt.Errorf("update workflow progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendWorkflowWarning appends a warning string to a workflow's warning list.
func (s *Store) AppendWorkflowWarning(ctx context.Context, id, warning string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET warnings = array_append(warnings, $2), updated_at = now() WHERE id = $1`, id, warning)
	if err != nil {
		return fmt.Errorf("append workflow warning: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWorkflowFeaturesUsed records the resolved feature-toggle map for a workflow.
func (s *Store) SetWorkflowFeaturesUsed(ctx context.Context, id string, features map[string]bool) error {
	data, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("marshal features used: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET features_used = $2, updated_at = now() WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("set workflow features used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestWorkflowCancellation flips the cooperative cancellation flag. It is a
// no-op error-wise if the workflow is already in a terminal state; the
// orchestrator is the only writer of terminal transitions, so the flag is
// simply ignored once observed past a terminal status.
func (s *Store) RequestWorkflowCancellation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET cancel_requested = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("request workflow cancellation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteWorkflow marks a workflow as completed, failed, or cancelled and stamps completed_at.
func (s *Store) CompleteWorkflow(ctx context.Context, id string, status WorkflowStatus, errMsg string) error {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET status = $2, error = NULLIF($3, ''), completed_at = $4, updated_at = $4
		WHERE id = $1`, id, status, errMsg, now)
	if err != nil {
		return fmt.Errorf("complete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflows returns workflows ordered by most recently created, capped at limit.
func (s *Store) ListWorkflows(ctx context.Context, limit int) ([]*Workflow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, prompt, network, contract_type, status, current_stage, progress, error, warnings,
		       features_requested, features_used, cancel_requested, created_at, updated_at, completed_at
		FROM workflows ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
