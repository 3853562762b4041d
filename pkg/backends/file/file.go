// Package file provides JSON-file backends rooted at a storage directory,
// one file per execution id per concern. Writes go through a temp file and
// rename so a reader never observes a partial context.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/models"
)

// New returns a backend set rooted at dir. Telemetry is not file-backed;
// pair with the memory or otel telemetry backend as needed.
func New(dir string) (backends.Backends, error) {
	b := backends.Backends{}
	contexts, err := newStore(filepath.Join(dir, "contexts"))
	if err != nil {
		return b, err
	}
	workflows, err := newStore(filepath.Join(dir, "workflows"))
	if err != nil {
		return b, err
	}
	current, err := newStore(filepath.Join(dir, "current_workflow"))
	if err != nil {
		return b, err
	}
	schemas, err := newStore(filepath.Join(dir, "schemas"))
	if err != nil {
		return b, err
	}
	identities, err := newStore(filepath.Join(dir, "identities"))
	if err != nil {
		return b, err
	}
	conversations, err := newStore(filepath.Join(dir, "conversations"))
	if err != nil {
		return b, err
	}
	b.Context = &ContextBackend{store: contexts}
	b.Workflow = &WorkflowBackend{registries: workflows, current: current}
	b.Schema = &SchemaBackend{store: schemas}
	b.Identity = &IdentityBackend{store: identities}
	b.Conversation = &ConversationBackend{store: conversations}
	return b, nil
}

// store serializes JSON documents under one directory.
type store struct {
	mu   sync.Mutex
	root string
}

func newStore(root string) (*store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", root, err)
	}
	return &store{root: root}, nil
}

func (s *store) path(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *store) write(id string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(id))
}

func (s *store) read(id string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

func (s *store) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *store) list() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok {
			ids = append(ids, name)
		}
	}
	return ids, nil
}

// ContextBackend stores one context file per execution.
type ContextBackend struct {
	store *store
}

func (b *ContextBackend) SaveContext(_ context.Context, executionID string, c *models.Context) error {
	return b.store.write(executionID, c)
}

func (b *ContextBackend) GetContext(_ context.Context, executionID string) (*models.Context, error) {
	c := models.NewContext()
	if _, err := b.store.read(executionID, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *ContextBackend) ListContexts(_ context.Context) ([]string, error) {
	return b.store.list()
}

// WorkflowBackend stores registries and current workflow names.
type WorkflowBackend struct {
	registries *store
	current    *store
}

func (b *WorkflowBackend) SaveWorkflowsRegistry(_ context.Context, executionID string, registry models.Registry) error {
	return b.registries.write(executionID, registry)
}

func (b *WorkflowBackend) GetWorkflowsRegistry(_ context.Context, executionID string) (models.Registry, error) {
	registry := models.Registry{}
	ok, err := b.registries.read(executionID, &registry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, backends.ErrNotFound
	}
	return registry, nil
}

func (b *WorkflowBackend) SaveCurrentWorkflowName(_ context.Context, executionID, name string) error {
	return b.current.write(executionID, name)
}

func (b *WorkflowBackend) GetCurrentWorkflowName(_ context.Context, executionID string) (string, error) {
	var name string
	ok, err := b.current.read(executionID, &name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", backends.ErrNotFound
	}
	return name, nil
}

// SchemaBackend stores field schemas.
type SchemaBackend struct {
	store *store
}

func (b *SchemaBackend) SaveContextSchema(_ context.Context, executionID string, schema models.FieldSchema) error {
	return b.store.write(executionID, schema)
}

func (b *SchemaBackend) GetContextSchema(_ context.Context, executionID string) (models.FieldSchema, error) {
	schema := models.FieldSchema{}
	ok, err := b.store.read(executionID, &schema)
	if err != nil || !ok {
		return nil, err
	}
	return schema, nil
}

func (b *SchemaBackend) DeleteContextSchema(_ context.Context, executionID string) error {
	return b.store.delete(executionID)
}

// IdentityBackend stores identity definitions.
type IdentityBackend struct {
	store *store
}

func (b *IdentityBackend) SaveIdentities(_ context.Context, executionID string, identities models.Identities) error {
	return b.store.write(executionID, identities)
}

func (b *IdentityBackend) GetIdentities(_ context.Context, executionID string) (models.Identities, error) {
	identities := models.Identities{}
	ok, err := b.store.read(executionID, &identities)
	if err != nil || !ok {
		return nil, err
	}
	return identities, nil
}

func (b *IdentityBackend) DeleteIdentities(_ context.Context, executionID string) error {
	return b.store.delete(executionID)
}

// ConversationBackend stores shared conversation history.
type ConversationBackend struct {
	store *store
	mu    sync.Mutex
}

func (b *ConversationBackend) GetConversationHistory(_ context.Context, mainExecutionID string) ([]backends.Message, error) {
	var history []backends.Message
	if _, err := b.store.read(mainExecutionID, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (b *ConversationBackend) AppendToConversationHistory(ctx context.Context, mainExecutionID string, msg backends.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	history, err := b.GetConversationHistory(ctx, mainExecutionID)
	if err != nil {
		return err
	}
	return b.store.write(mainExecutionID, append(history, msg))
}

func (b *ConversationBackend) SaveConversationHistory(_ context.Context, mainExecutionID string, history []backends.Message) error {
	return b.store.write(mainExecutionID, history)
}

func (b *ConversationBackend) DeleteConversationHistory(_ context.Context, mainExecutionID string) error {
	return b.store.delete(mainExecutionID)
}
