package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soehq/soe/pkg/models"
)

// scriptedCaller returns canned responses in order.
func scriptedCaller(responses ...string) (CallFunc, *int) {
	calls := 0
	count := &calls
	return func(_ context.Context, _ string, _ *models.NodeConfig) (string, error) {
		if calls >= len(responses) {
			return "", errors.New("script exhausted")
		}
		response := responses[calls]
		calls++
		return response, nil
	}, count
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced block", "Sure:\n```json\n{\"a\": 1}\n```\ndone", `{"a": 1}`},
		{"prose prefix", `The answer is {"a": {"b": [1, 2]}} as requested`, `{"a": {"b": [1, 2]}}`},
		{"braces in strings", `{"a": "close } brace"}`, `{"a": "close } brace"}`},
		{"array", `[1, 2, 3]`, `[1, 2, 3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestResolveStripsThinkTags(t *testing.T) {
	call, _ := scriptedCaller("<think>let me reason</think>{\"output\": \"done\"}")
	contract := BuildContract("", nil, nil)

	response, err := Resolve(context.Background(), call, "prompt", nil, contract, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", response.Output)
}

func TestResolveRepairLoop(t *testing.T) {
	call, count := scriptedCaller(
		"not even json",
		`{"wrong_key": true}`,
		`{"output": "finally"}`,
	)
	contract := BuildContract("", nil, nil)

	onCalls := 0
	response, err := Resolve(context.Background(), call, "prompt", nil, contract, 3, func() { onCalls++ })
	require.NoError(t, err)
	assert.Equal(t, "finally", response.Output)
	assert.Equal(t, 3, *count)
	assert.Equal(t, 3, onCalls)
}

func TestResolveExhaustsRetries(t *testing.T) {
	call, count := scriptedCaller("bad", "worse", "still bad")
	contract := BuildContract("", nil, nil)

	_, err := Resolve(context.Background(), call, "prompt", nil, contract, 2, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, 3, *count)
}

func TestResolveOutputFieldWithSchema(t *testing.T) {
	entry := &models.SchemaEntry{Type: "string", Description: "a summary"}
	contract := BuildContract("summary", entry, nil)

	call, _ := scriptedCaller(`{"summary": "all good"}`)
	response, err := Resolve(context.Background(), call, "prompt", nil, contract, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "all good", response.Output)
	assert.Nil(t, response.SelectedSignals)

	// A schema-typed output field rejects the wrong JSON type.
	call, _ = scriptedCaller(`{"summary": 42}`)
	_, err = Resolve(context.Background(), call, "prompt", nil, contract, 0, nil)
	require.Error(t, err)
}

func TestResolveSignalSelection(t *testing.T) {
	options := []models.Emission{
		{SignalName: "POS", Condition: "the sentiment is positive"},
		{SignalName: "NEG", Condition: "the sentiment is negative"},
		{SignalName: "NEU", Condition: "the sentiment is neutral"},
	}
	contract := BuildContract("", nil, options)
	assert.True(t, contract.SignalSelection)

	call, _ := scriptedCaller(`{"output": "mixed", "selected_signals": ["POS", "NEU"]}`)
	response, err := Resolve(context.Background(), call, "prompt", nil, contract, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"POS", "NEU"}, response.SelectedSignals)

	// Selection outside the enum fails validation.
	call, _ = scriptedCaller(`{"output": "x", "selected_signals": ["WHAT"]}`)
	_, err = Resolve(context.Background(), call, "prompt", nil, contract, 0, nil)
	require.Error(t, err)
}

func TestResolveEmptySelection(t *testing.T) {
	options := []models.Emission{
		{SignalName: "A", Condition: "first"},
		{SignalName: "B", Condition: "second"},
	}
	contract := BuildContract("", nil, options)

	call, _ := scriptedCaller(`{"output": "none apply", "selected_signals": []}`)
	response, err := Resolve(context.Background(), call, "prompt", nil, contract, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, response.SelectedSignals)
	assert.Empty(t, response.SelectedSignals)
}

func TestResolveRawCustomSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []any{"call_tool", "finish"}},
		},
		"required": []string{"action"},
	}

	call, _ := scriptedCaller(`{"action": "finish"}`)
	raw, err := ResolveRaw(context.Background(), call, "prompt", nil, schema, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "finish", raw["action"])

	call, _ = scriptedCaller(`{"action": "fly"}`)
	_, err = ResolveRaw(context.Background(), call, "prompt", nil, schema, 0, nil)
	require.Error(t, err)
}

func TestResolvePropagatesCallError(t *testing.T) {
	failing := func(_ context.Context, _ string, _ *models.NodeConfig) (string, error) {
		return "", errors.New("connection refused")
	}
	contract := BuildContract("", nil, nil)
	_, err := Resolve(context.Background(), failing, "prompt", nil, contract, 3, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
