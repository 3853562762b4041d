package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soehq/soe/pkg/backends/memory"
	"github.com/soehq/soe/pkg/llm"
	"github.com/soehq/soe/pkg/log"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/tools"
)

func scriptedCaller(responses ...string) llm.CallFunc {
	calls := 0
	return func(_ context.Context, _ string, _ *models.NodeConfig) (string, error) {
		if calls >= len(responses) {
			return "", errors.New("script exhausted")
		}
		response := responses[calls]
		calls++
		return response, nil
	}
}

func runtimeWith(t *testing.T, registry *tools.Registry, call llm.CallFunc) *nodes.Runtime {
	t.Helper()
	c := models.NewContext()
	c.InitOperational("e1")
	return &nodes.Runtime{
		ExecutionID:   "e1",
		Context:       c,
		Backends:      memory.New(),
		Tools:         registry,
		CallModel:     call,
		MaxAgentTurns: 10,
		Logger:        log.WithModule("test"),
	}
}

func TestAgentCallsToolThenFinishes(t *testing.T) {
	var received map[string]any
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name:        "search",
		Description: "Search the corpus",
		Function: func(_ context.Context, args any) (any, error) {
			received = args.(map[string]any)
			return "3 results", nil
		},
	})

	rt := runtimeWith(t, registry, scriptedCaller(
		`{"action": "call_tool", "tool_name": "search", "arguments": {"query": "storage"}}`,
		`{"action": "finish"}`,
		`{"answer": "storage is fine"}`,
	))

	node := &models.NodeConfig{
		Name:        "researcher",
		Type:        models.NodeTypeAgent,
		Prompt:      "Research the topic",
		Tools:       []string{"search"},
		OutputField: "answer",
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Empty(t, result.Signals)
	assert.Equal(t, map[string]any{"query": "storage"}, received)

	answer, ok := rt.Context.Field("answer")
	require.True(t, ok)
	assert.Equal(t, "storage is fine", answer)

	op := rt.Context.Operational()
	assert.Equal(t, 3, op.LLMCalls)
	assert.Equal(t, 1, op.ToolCalls)
}

func TestAgentSemanticSignalSelection(t *testing.T) {
	rt := runtimeWith(t, tools.NewRegistry(), scriptedCaller(
		`{"action": "finish"}`,
		`{"output": "looks great", "selected_signals": ["GOOD"]}`,
	))

	node := &models.NodeConfig{
		Name:   "judge",
		Type:   models.NodeTypeAgent,
		Prompt: "Judge the result",
		EventEmissions: []models.Emission{
			{SignalName: "GOOD", Condition: "the result is acceptable"},
			{SignalName: "BAD", Condition: "the result needs rework"},
		},
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOD"}, result.Signals)
}

func TestAgentToolErrorEntersRetryBudget(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "broken",
		Function: func(_ context.Context, _ any) (any, error) {
			return nil, errors.New("always fails")
		},
	})

	retries := 1
	rt := runtimeWith(t, registry, scriptedCaller(
		`{"action": "call_tool", "tool_name": "broken", "arguments": {}}`,
		`{"action": "call_tool", "tool_name": "broken", "arguments": {}}`,
		`{"action": "call_tool", "tool_name": "broken", "arguments": {}}`,
	))

	node := &models.NodeConfig{
		Name:             "worker",
		Type:             models.NodeTypeAgent,
		Prompt:           "Do the thing",
		Tools:            []string{"broken"},
		Retries:          &retries,
		LLMFailureSignal: "AGENT_FAILED",
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, []string{"AGENT_FAILED"}, result.Signals)
	assert.Equal(t, 1, rt.Context.Operational().Errors)
}

func TestAgentUnknownToolSelectionIsRetried(t *testing.T) {
	rt := runtimeWith(t, tools.NewRegistry(), scriptedCaller(
		`{"action": "call_tool", "tool_name": "ghost", "arguments": {}}`,
		`{"action": "finish"}`,
		`{"output": "recovered"}`,
	))

	node := &models.NodeConfig{
		Name:   "worker",
		Type:   models.NodeTypeAgent,
		Prompt: "Do the thing",
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Empty(t, result.Signals)
}

func TestAgentFailureWithoutSignalIsFatal(t *testing.T) {
	failing := func(_ context.Context, _ string, _ *models.NodeConfig) (string, error) {
		return "", errors.New("provider down")
	}
	rt := runtimeWith(t, tools.NewRegistry(), failing)

	node := &models.NodeConfig{
		Name:   "worker",
		Type:   models.NodeTypeAgent,
		Prompt: "Do the thing",
	}

	_, err := New().Execute(context.Background(), rt, node)
	require.Error(t, err)
}

func TestAgentSharedHistoryWithIdentity(t *testing.T) {
	rt := runtimeWith(t, tools.NewRegistry(), scriptedCaller(
		`{"action": "finish"}`,
		`{"summary": "done"}`,
	))
	ctx := context.Background()
	require.NoError(t, rt.Backends.Identity.SaveIdentities(ctx, "e1", models.Identities{"scribe": "You keep notes."}))

	node := &models.NodeConfig{
		Name:        "note",
		Type:        models.NodeTypeAgent,
		Prompt:      "Summarize",
		Identity:    "scribe",
		OutputField: "summary",
	}

	_, err := New().Execute(ctx, rt, node)
	require.NoError(t, err)

	history, err := rt.Backends.Conversation.GetConversationHistory(ctx, "e1")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, llm.RoleSystem, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[len(history)-1].Role)
}
