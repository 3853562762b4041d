// Package redis provides backends on a shared redis instance. One JSON
// document per key; conversation history is a redis list so appends
// serialize on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/models"
)

const keyPrefix = "soe"

// New returns a backend set over the given redis client.
func New(client *goredis.Client) backends.Backends {
	return backends.Backends{
		Context:      &ContextBackend{client: client},
		Workflow:     &WorkflowBackend{client: client},
		Schema:       &SchemaBackend{client: client},
		Identity:     &IdentityBackend{client: client},
		Conversation: &ConversationBackend{client: client},
	}
}

// NewFromURL parses a redis URL and returns a backend set.
func NewFromURL(url string) (backends.Backends, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return backends.Backends{}, fmt.Errorf("parse redis url: %w", err)
	}
	return New(goredis.NewClient(opts)), nil
}

func key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

func setJSON(ctx context.Context, client *goredis.Client, k string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, k, data, 0).Err()
}

func getJSON(ctx context.Context, client *goredis.Client, k string, v any) (bool, error) {
	data, err := client.Get(ctx, k).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

// ContextBackend stores contexts under soe:context:<id>.
type ContextBackend struct {
	client *goredis.Client
}

func (b *ContextBackend) SaveContext(ctx context.Context, executionID string, c *models.Context) error {
	return setJSON(ctx, b.client, key("context", executionID), c)
}

func (b *ContextBackend) GetContext(ctx context.Context, executionID string) (*models.Context, error) {
	c := models.NewContext()
	if _, err := getJSON(ctx, b.client, key("context", executionID), c); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *ContextBackend) ListContexts(ctx context.Context) ([]string, error) {
	var ids []string
	iter := b.client.Scan(ctx, 0, key("context", "*"), 0).Iterator()
	prefix := key("context", "")
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	return ids, iter.Err()
}

// WorkflowBackend stores registries under soe:workflows:<id> and the
// current workflow name under soe:current_workflow:<id>.
type WorkflowBackend struct {
	client *goredis.Client
}

func (b *WorkflowBackend) SaveWorkflowsRegistry(ctx context.Context, executionID string, registry models.Registry) error {
	return setJSON(ctx, b.client, key("workflows", executionID), registry)
}

func (b *WorkflowBackend) GetWorkflowsRegistry(ctx context.Context, executionID string) (models.Registry, error) {
	registry := models.Registry{}
	ok, err := getJSON(ctx, b.client, key("workflows", executionID), &registry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, backends.ErrNotFound
	}
	return registry, nil
}

func (b *WorkflowBackend) SaveCurrentWorkflowName(ctx context.Context, executionID, name string) error {
	return b.client.Set(ctx, key("current_workflow", executionID), name, 0).Err()
}

func (b *WorkflowBackend) GetCurrentWorkflowName(ctx context.Context, executionID string) (string, error) {
	name, err := b.client.Get(ctx, key("current_workflow", executionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", backends.ErrNotFound
	}
	return name, err
}

// SchemaBackend stores field schemas under soe:schema:<id>.
type SchemaBackend struct {
	client *goredis.Client
}

func (b *SchemaBackend) SaveContextSchema(ctx context.Context, executionID string, schema models.FieldSchema) error {
	return setJSON(ctx, b.client, key("schema", executionID), schema)
}

func (b *SchemaBackend) GetContextSchema(ctx context.Context, executionID string) (models.FieldSchema, error) {
	schema := models.FieldSchema{}
	ok, err := getJSON(ctx, b.client, key("schema", executionID), &schema)
	if err != nil || !ok {
		return nil, err
	}
	return schema, nil
}

func (b *SchemaBackend) DeleteContextSchema(ctx context.Context, executionID string) error {
	return b.client.Del(ctx, key("schema", executionID)).Err()
}

// IdentityBackend stores identities under soe:identities:<id>.
type IdentityBackend struct {
	client *goredis.Client
}

func (b *IdentityBackend) SaveIdentities(ctx context.Context, executionID string, identities models.Identities) error {
	return setJSON(ctx, b.client, key("identities", executionID), identities)
}

func (b *IdentityBackend) GetIdentities(ctx context.Context, executionID string) (models.Identities, error) {
	identities := models.Identities{}
	ok, err := getJSON(ctx, b.client, key("identities", executionID), &identities)
	if err != nil || !ok {
		return nil, err
	}
	return identities, nil
}

func (b *IdentityBackend) DeleteIdentities(ctx context.Context, executionID string) error {
	return b.client.Del(ctx, key("identities", executionID)).Err()
}

// ConversationBackend stores history as a redis list under
// soe:conversation:<main id>; RPUSH makes appends atomic per key.
type ConversationBackend struct {
	client *goredis.Client
}

func (b *ConversationBackend) GetConversationHistory(ctx context.Context, mainExecutionID string) ([]backends.Message, error) {
	entries, err := b.client.LRange(ctx, key("conversation", mainExecutionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	history := make([]backends.Message, 0, len(entries))
	for _, e := range entries {
		var msg backends.Message
		if err := json.Unmarshal([]byte(e), &msg); err != nil {
			return nil, err
		}
		history = append(history, msg)
	}
	return history, nil
}

func (b *ConversationBackend) AppendToConversationHistory(ctx context.Context, mainExecutionID string, msg backends.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.RPush(ctx, key("conversation", mainExecutionID), data).Err()
}

func (b *ConversationBackend) SaveConversationHistory(ctx context.Context, mainExecutionID string, history []backends.Message) error {
	k := key("conversation", mainExecutionID)
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, k)
	for _, msg := range history {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, k, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *ConversationBackend) DeleteConversationHistory(ctx context.Context, mainExecutionID string) error {
	return b.client.Del(ctx, key("conversation", mainExecutionID)).Err()
}
