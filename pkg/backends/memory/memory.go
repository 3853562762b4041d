// Package memory provides in-memory backends for tests and single-process
// embedding. A mutex per store serializes writes and appends, which gives
// the per-execution atomicity the backend contract asks for.
package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/log"
	"github.com/soehq/soe/pkg/models"
)

// New returns a full in-memory backend set with slog telemetry.
func New() backends.Backends {
	return backends.Backends{
		Context:      NewContextBackend(),
		Workflow:     NewWorkflowBackend(),
		Schema:       NewSchemaBackend(),
		Identity:     NewIdentityBackend(),
		Conversation: NewConversationBackend(),
		Telemetry:    NewTelemetryBackend(),
	}
}

// ContextBackend stores contexts keyed by execution id.
type ContextBackend struct {
	mu       sync.Mutex
	contexts map[string][]byte
}

func NewContextBackend() *ContextBackend {
	return &ContextBackend{contexts: map[string][]byte{}}
}

func (b *ContextBackend) SaveContext(_ context.Context, executionID string, c *models.Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contexts[executionID] = data
	return nil
}

func (b *ContextBackend) GetContext(_ context.Context, executionID string) (*models.Context, error) {
	b.mu.Lock()
	data, ok := b.contexts[executionID]
	b.mu.Unlock()
	if !ok {
		return models.NewContext(), nil
	}
	c := models.NewContext()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *ContextBackend) ListContexts(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.contexts))
	for id := range b.contexts {
		ids = append(ids, id)
	}
	return ids, nil
}

// WorkflowBackend stores registries and current workflow names.
type WorkflowBackend struct {
	mu         sync.Mutex
	registries map[string][]byte
	current    map[string]string
}

func NewWorkflowBackend() *WorkflowBackend {
	return &WorkflowBackend{registries: map[string][]byte{}, current: map[string]string{}}
}

func (b *WorkflowBackend) SaveWorkflowsRegistry(_ context.Context, executionID string, registry models.Registry) error {
	data, err := json.Marshal(registry)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registries[executionID] = data
	return nil
}

func (b *WorkflowBackend) GetWorkflowsRegistry(_ context.Context, executionID string) (models.Registry, error) {
	b.mu.Lock()
	data, ok := b.registries[executionID]
	b.mu.Unlock()
	if !ok {
		return nil, backends.ErrNotFound
	}
	registry := models.Registry{}
	if err := json.Unmarshal(data, &registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func (b *WorkflowBackend) SaveCurrentWorkflowName(_ context.Context, executionID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current[executionID] = name
	return nil
}

func (b *WorkflowBackend) GetCurrentWorkflowName(_ context.Context, executionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.current[executionID]
	if !ok {
		return "", backends.ErrNotFound
	}
	return name, nil
}

// SchemaBackend stores field schemas.
type SchemaBackend struct {
	mu      sync.Mutex
	schemas map[string]models.FieldSchema
}

func NewSchemaBackend() *SchemaBackend {
	return &SchemaBackend{schemas: map[string]models.FieldSchema{}}
}

func (b *SchemaBackend) SaveContextSchema(_ context.Context, executionID string, schema models.FieldSchema) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemas[executionID] = schema.Clone()
	return nil
}

func (b *SchemaBackend) GetContextSchema(_ context.Context, executionID string) (models.FieldSchema, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	schema, ok := b.schemas[executionID]
	if !ok {
		return nil, nil
	}
	return schema.Clone(), nil
}

func (b *SchemaBackend) DeleteContextSchema(_ context.Context, executionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.schemas, executionID)
	return nil
}

// IdentityBackend stores identity definitions.
type IdentityBackend struct {
	mu         sync.Mutex
	identities map[string]models.Identities
}

func NewIdentityBackend() *IdentityBackend {
	return &IdentityBackend{identities: map[string]models.Identities{}}
}

func (b *IdentityBackend) SaveIdentities(_ context.Context, executionID string, identities models.Identities) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identities[executionID] = identities.Clone()
	return nil
}

func (b *IdentityBackend) GetIdentities(_ context.Context, executionID string) (models.Identities, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	identities, ok := b.identities[executionID]
	if !ok {
		return nil, nil
	}
	return identities.Clone(), nil
}

func (b *IdentityBackend) DeleteIdentities(_ context.Context, executionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.identities, executionID)
	return nil
}

// ConversationBackend stores shared conversation history.
type ConversationBackend struct {
	mu        sync.Mutex
	histories map[string][]backends.Message
}

func NewConversationBackend() *ConversationBackend {
	return &ConversationBackend{histories: map[string][]backends.Message{}}
}

func (b *ConversationBackend) GetConversationHistory(_ context.Context, mainExecutionID string) ([]backends.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backends.Message{}, b.histories[mainExecutionID]...), nil
}

func (b *ConversationBackend) AppendToConversationHistory(_ context.Context, mainExecutionID string, msg backends.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.histories[mainExecutionID] = append(b.histories[mainExecutionID], msg)
	return nil
}

func (b *ConversationBackend) SaveConversationHistory(_ context.Context, mainExecutionID string, history []backends.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.histories[mainExecutionID] = append([]backends.Message{}, history...)
	return nil
}

func (b *ConversationBackend) DeleteConversationHistory(_ context.Context, mainExecutionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.histories, mainExecutionID)
	return nil
}

// TelemetryBackend logs events through slog.
type TelemetryBackend struct {
	logger *slog.Logger
}

func NewTelemetryBackend() *TelemetryBackend {
	return &TelemetryBackend{logger: log.WithModule("telemetry")}
}

func (b *TelemetryBackend) LogEvent(ctx context.Context, executionID string, eventType events.Type, data map[string]any) {
	attrs := []any{"executionId", executionID, "event", string(eventType)}
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	b.logger.DebugContext(ctx, "engine event", attrs...)
}

// RecordingTelemetry captures events for assertions in tests.
type RecordingTelemetry struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

// RecordedEvent is one captured telemetry event.
type RecordedEvent struct {
	ExecutionID string
	Type        events.Type
	Data        map[string]any
}

func NewRecordingTelemetry() *RecordingTelemetry {
	return &RecordingTelemetry{}
}

func (r *RecordingTelemetry) LogEvent(_ context.Context, executionID string, eventType events.Type, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, RecordedEvent{ExecutionID: executionID, Type: eventType, Data: data})
}

// TypesSeen returns the captured event types in order.
func (r *RecordingTelemetry) TypesSeen() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
