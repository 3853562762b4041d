package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/models"
)

func TestContextBackendRoundTrip(t *testing.T) {
	b := NewContextBackend()
	ctx := context.Background()

	c := models.NewContext()
	c.InitOperational("e1")
	require.NoError(t, c.SetField("topic", "news"))
	require.NoError(t, b.SaveContext(ctx, "e1", c))

	restored, err := b.GetContext(ctx, "e1")
	require.NoError(t, err)
	value, ok := restored.Field("topic")
	require.True(t, ok)
	assert.Equal(t, "news", value)
	assert.Equal(t, "e1", restored.Operational().MainExecutionID)

	// Unknown ids read back as an empty context.
	empty, err := b.GetContext(ctx, "missing")
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	ids, err := b.ListContexts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)
}

func TestContextBackendSnapshotsOnSave(t *testing.T) {
	b := NewContextBackend()
	ctx := context.Background()

	c := models.NewContext()
	c.InitOperational("e1")
	require.NoError(t, b.SaveContext(ctx, "e1", c))

	// Mutations after save must not leak into the stored copy.
	require.NoError(t, c.SetField("later", "x"))

	restored, err := b.GetContext(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, restored.Has("later"))
}

func TestWorkflowBackendRoundTrip(t *testing.T) {
	b := NewWorkflowBackend()
	ctx := context.Background()

	_, err := b.GetWorkflowsRegistry(ctx, "e1")
	require.ErrorIs(t, err, backends.ErrNotFound)

	registry := models.Registry{"main": {Nodes: []*models.NodeConfig{
		{Name: "n", Type: models.NodeTypeRouter, EventTriggers: []string{"GO"}},
	}}}
	require.NoError(t, b.SaveWorkflowsRegistry(ctx, "e1", registry))

	restored, err := b.GetWorkflowsRegistry(ctx, "e1")
	require.NoError(t, err)
	require.Contains(t, restored, "main")
	assert.Equal(t, "n", restored["main"].Nodes[0].Name)

	_, err = b.GetCurrentWorkflowName(ctx, "e1")
	require.ErrorIs(t, err, backends.ErrNotFound)
	require.NoError(t, b.SaveCurrentWorkflowName(ctx, "e1", "main"))
	name, err := b.GetCurrentWorkflowName(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "main", name)
}

func TestConversationBackendAppends(t *testing.T) {
	b := NewConversationBackend()
	ctx := context.Background()

	history, err := b.GetConversationHistory(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, b.AppendToConversationHistory(ctx, "m1", backends.Message{Role: "user", Content: "hi"}))
	require.NoError(t, b.AppendToConversationHistory(ctx, "m1", backends.Message{Role: "assistant", Content: "hello"}))

	history, err = b.GetConversationHistory(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)

	require.NoError(t, b.DeleteConversationHistory(ctx, "m1"))
	history, err = b.GetConversationHistory(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSchemaAndIdentityBackends(t *testing.T) {
	sb := NewSchemaBackend()
	ib := NewIdentityBackend()
	ctx := context.Background()

	schema, err := sb.GetContextSchema(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, schema)

	require.NoError(t, sb.SaveContextSchema(ctx, "m1", models.FieldSchema{
		"summary": {Type: "string", Description: "short summary"},
	}))
	schema, err = sb.GetContextSchema(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "string", schema["summary"].Type)

	require.NoError(t, ib.SaveIdentities(ctx, "m1", models.Identities{"analyst": "You analyze."}))
	identities, err := ib.GetIdentities(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "You analyze.", identities["analyst"])

	require.NoError(t, ib.DeleteIdentities(ctx, "m1"))
	identities, err = ib.GetIdentities(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, identities)
}
