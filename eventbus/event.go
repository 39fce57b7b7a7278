// Package eventbus provides the durable event log every stage and the
// coordinator publish to and consume from. It wraps NATS JetStream for the
// durable, at-least-once path (one stream per event type, durable pull
// consumers per subscriber group) and layers a synchronous in-process
// fan-out on top for callers that just want a local callback without
// standing up a consumer.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies one kind of domain event. Its subject is "events.<type>";
// its stream is "EVENTS_<type>" with dots and dashes replaced by underscores.
type Type string

const (
	TypeWorkflowCreated   Type = "workflow.created"
	TypeWorkflowStarted   Type = "workflow.started"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeWorkflowFailed    Type = "workflow.failed"
	TypeWorkflowCancelled Type = "workflow.cancelled"

	TypeGenerationStarted   Type = "generation.started"
	TypeGenerationCompleted Type = "generation.completed"
	TypeGenerationFailed    Type = "generation.failed"

	TypeCompilationStarted   Type = "compilation.started"
	TypeCompilationCompleted Type = "compilation.completed"
	TypeCompilationFailed    Type = "compilation.failed"

	TypeAuditStarted   Type = "audit.started"
	TypeAuditCompleted Type = "audit.completed"
	TypeAuditFailed    Type = "audit.failed"

	TypeTestingStarted   Type = "testing.started"
	TypeTestingCompleted Type = "testing.completed"
	TypeTestingFailed    Type = "testing.failed"

	TypeDeploymentStarted   Type = "deployment.started"
	TypeDeploymentCompleted Type = "deployment.completed"
	TypeDeploymentConfirmed Type = "deployment.confirmed"
	TypeDeploymentFailed    Type = "deployment.failed"
)

// AllTypes lists every event type, used to provision one stream per type at
// startup.
func AllTypes() []Type {
	return []Type{
		TypeWorkflowCreated, TypeWorkflowStarted, TypeWorkflowCompleted, TypeWorkflowFailed, TypeWorkflowCancelled,
		TypeGenerationStarted, TypeGenerationCompleted, TypeGenerationFailed,
		TypeCompilationStarted, TypeCompilationCompleted, TypeCompilationFailed,
		TypeAuditStarted, TypeAuditCompleted, TypeAuditFailed,
		TypeTestingStarted, TypeTestingCompleted, TypeTestingFailed,
		TypeDeploymentStarted, TypeDeploymentCompleted, TypeDeploymentConfirmed, TypeDeploymentFailed,
	}
}

// Subject returns the JetStream subject an event type is published to.
func (t Type) Subject() string {
	return "events." + string(t)
}

// Event is the envelope carried on the wire, regardless of event type. The
// JSON-encoded domain payload lives in Data; stage and coordinator code
// unmarshals it into a concrete struct once the Type is known.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	WorkflowID string          `json:"workflow_id"`
	Stage      string          `json:"stage,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewEvent builds an envelope around a JSON-marshalable payload.
func NewEvent(t Type, workflowID, stage string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		WorkflowID: workflowID,
		Stage:      stage,
		Data:       raw,
		CreatedAt:  time.Now(),
	}, nil
}
