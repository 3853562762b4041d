// Package backends defines the persistence contracts the kernel depends on.
// All ids are opaque strings; all persisted values are JSON-serialisable.
// Implementations must provide per-execution atomicity for context writes
// and serialize conversation-history appends per key.
package backends

import (
	"context"
	"errors"

	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/models"
)

// ErrNotFound is returned by Get* calls for unknown ids where the contract
// distinguishes absence from emptiness.
var ErrNotFound = errors.New("not found")

// ContextBackend stores per-execution context.
type ContextBackend interface {
	SaveContext(ctx context.Context, executionID string, c *models.Context) error
	// GetContext returns an empty context for unknown ids.
	GetContext(ctx context.Context, executionID string) (*models.Context, error)
	// ListContexts enumerates execution ids with stored context.
	ListContexts(ctx context.Context) ([]string, error)
}

// WorkflowBackend stores per-execution workflow registries and the current
// workflow name.
type WorkflowBackend interface {
	SaveWorkflowsRegistry(ctx context.Context, executionID string, registry models.Registry) error
	// GetWorkflowsRegistry returns ErrNotFound for unknown ids.
	GetWorkflowsRegistry(ctx context.Context, executionID string) (models.Registry, error)
	SaveCurrentWorkflowName(ctx context.Context, executionID string, name string) error
	GetCurrentWorkflowName(ctx context.Context, executionID string) (string, error)
}

// SchemaBackend stores field schemas, keyed by main_execution_id.
type SchemaBackend interface {
	SaveContextSchema(ctx context.Context, executionID string, schema models.FieldSchema) error
	// GetContextSchema returns nil for unknown ids.
	GetContextSchema(ctx context.Context, executionID string) (models.FieldSchema, error)
	DeleteContextSchema(ctx context.Context, executionID string) error
}

// IdentityBackend stores identity definitions, keyed by main_execution_id.
type IdentityBackend interface {
	SaveIdentities(ctx context.Context, executionID string, identities models.Identities) error
	// GetIdentities returns nil for unknown ids.
	GetIdentities(ctx context.Context, executionID string) (models.Identities, error)
	DeleteIdentities(ctx context.Context, executionID string) error
}

// Message is one conversation-history entry.
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name,omitempty"`
}

// ConversationBackend stores shared conversation history, keyed by
// main_execution_id. Appends must serialize per key.
type ConversationBackend interface {
	GetConversationHistory(ctx context.Context, mainExecutionID string) ([]Message, error)
	AppendToConversationHistory(ctx context.Context, mainExecutionID string, msg Message) error
	SaveConversationHistory(ctx context.Context, mainExecutionID string, history []Message) error
	DeleteConversationHistory(ctx context.Context, mainExecutionID string) error
}

// TelemetryBackend receives engine events. Implementations must tolerate
// being called from concurrent executions.
type TelemetryBackend interface {
	LogEvent(ctx context.Context, executionID string, eventType events.Type, data map[string]any)
}

// Backends bundles every backend the engine consumes. Context and Workflow
// are required; the rest are optional and may be nil.
type Backends struct {
	Context      ContextBackend
	Workflow     WorkflowBackend
	Schema       SchemaBackend
	Identity     IdentityBackend
	Conversation ConversationBackend
	Telemetry    TelemetryBackend
}

// Validate checks the required backends are present.
func (b Backends) Validate() error {
	if b.Context == nil {
		return errors.New("context backend is required")
	}
	if b.Workflow == nil {
		return errors.New("workflow backend is required")
	}
	return nil
}

// LogEvent forwards to the telemetry backend when configured.
func (b Backends) LogEvent(ctx context.Context, executionID string, eventType events.Type, data map[string]any) {
	if b.Telemetry != nil {
		b.Telemetry.LogEvent(ctx, executionID, eventType, data)
	}
}
