package storage

import (
	"context"
	"fmt"
)

// CreateEvent appends a workflow lifecycle event. Events are append-only: no
// Update or Delete method exists by design, matching the event bus's durable
// log semantics.
func (s *Store) CreateEvent(ctx context.Context, e *Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, workflow_id, type, stage, payload, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, now())`,
		e.ID, e.WorkflowID, e.Type, string(e.Stage), e.Payload)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEventsByWorkflow returns every event recorded for a workflow, in the
// order they were appended.
func (s *Store) ListEventsByWorkflow(ctx context.Context, workflowID string) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, type, COALESCE(stage, ''), payload, created_at
		FROM events WHERE workflow_id = $1 ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var stage string
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Type, &stage, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Stage = StageName(stage)
		out = append(out, &e)
	}
	return out, rows.Err()
}
