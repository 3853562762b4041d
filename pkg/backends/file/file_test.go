package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/models"
)

func newTestBackends(t *testing.T) backends.Backends {
	t.Helper()
	b, err := New(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestFileContextRoundTrip(t *testing.T) {
	b := newTestBackends(t)
	ctx := context.Background()

	c := models.NewContext()
	c.InitOperational("e1")
	require.NoError(t, c.SetField("amount", 41.5))
	require.NoError(t, c.SetField("amount", 42.5))
	require.NoError(t, b.Context.SaveContext(ctx, "e1", c))

	restored, err := b.Context.GetContext(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []any{41.5, 42.5}, restored.Accumulated("amount"))
	assert.Equal(t, "e1", restored.Operational().MainExecutionID)

	empty, err := b.Context.GetContext(ctx, "unknown")
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	ids, err := b.Context.ListContexts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)
}

func TestFileWorkflowRoundTrip(t *testing.T) {
	b := newTestBackends(t)
	ctx := context.Background()

	_, err := b.Workflow.GetWorkflowsRegistry(ctx, "e1")
	require.ErrorIs(t, err, backends.ErrNotFound)

	registry := models.Registry{"main": {Nodes: []*models.NodeConfig{
		{Name: "first", Type: models.NodeTypeRouter, EventTriggers: []string{"GO"}},
		{Name: "second", Type: models.NodeTypeTool, ToolName: "pay", EventTriggers: []string{"PAID"}},
	}}}
	require.NoError(t, b.Workflow.SaveWorkflowsRegistry(ctx, "e1", registry))

	restored, err := b.Workflow.GetWorkflowsRegistry(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, restored["main"].Nodes, 2)
	assert.Equal(t, "first", restored["main"].Nodes[0].Name)
	assert.Equal(t, "pay", restored["main"].Nodes[1].ToolName)

	require.NoError(t, b.Workflow.SaveCurrentWorkflowName(ctx, "e1", "main"))
	name, err := b.Workflow.GetCurrentWorkflowName(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "main", name)
}

func TestFileConversationAppend(t *testing.T) {
	b := newTestBackends(t)
	ctx := context.Background()

	require.NoError(t, b.Conversation.AppendToConversationHistory(ctx, "m1", backends.Message{Role: "system", Content: "be brief"}))
	require.NoError(t, b.Conversation.AppendToConversationHistory(ctx, "m1", backends.Message{Role: "user", Content: "hi"}))

	history, err := b.Conversation.GetConversationHistory(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "be brief", history[0].Content)
}

func TestFileSchemaAndIdentity(t *testing.T) {
	b := newTestBackends(t)
	ctx := context.Background()

	require.NoError(t, b.Schema.SaveContextSchema(ctx, "m1", models.FieldSchema{
		"items": {Type: "list", Items: &models.SchemaEntry{Type: "string"}},
	}))
	schema, err := b.Schema.GetContextSchema(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, schema["items"].Items)
	assert.Equal(t, "string", schema["items"].Items.Type)

	require.NoError(t, b.Identity.SaveIdentities(ctx, "m1", models.Identities{"poet": "You rhyme."}))
	identities, err := b.Identity.GetIdentities(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "You rhyme.", identities["poet"])

	missing, err := b.Identity.GetIdentities(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
