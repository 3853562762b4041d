package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soehq/soe/pkg/backends/memory"
	"github.com/soehq/soe/pkg/log"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/tools"
)

func runtimeWith(t *testing.T, fields map[string]any, registry *tools.Registry) *nodes.Runtime {
	t.Helper()
	c := models.ContextFromInitial(fields)
	c.InitOperational("e1")
	return &nodes.Runtime{
		ExecutionID: "e1",
		Context:     c,
		Backends:    memory.New(),
		Tools:       registry,
		Logger:      log.WithModule("test"),
	}
}

func TestToolResultRouting(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "pay",
		Function: func(_ context.Context, _ any) (any, error) {
			return map[string]any{"status": "approved"}, nil
		},
	})

	rt := runtimeWith(t, nil, registry)
	node := &models.NodeConfig{
		Name:        "charge",
		Type:        models.NodeTypeTool,
		ToolName:    "pay",
		OutputField: "payment_result",
		EventEmissions: []models.Emission{
			{SignalName: "OK", Condition: `{{ if eq .result.status "approved" }}true{{ end }}`},
			{SignalName: "BAD", Condition: `{{ if ne .result.status "approved" }}true{{ end }}`},
		},
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, result.Signals)

	stored, ok := rt.Context.Field("payment_result")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"status": "approved"}, stored)
	assert.Equal(t, 1, rt.Context.Operational().ToolCalls)
}

func TestToolRendersParameters(t *testing.T) {
	var received map[string]any
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "notify",
		Function: func(_ context.Context, args any) (any, error) {
			received = args.(map[string]any)
			return "sent", nil
		},
	})

	rt := runtimeWith(t, map[string]any{"user": "ada"}, registry)
	node := &models.NodeConfig{
		Name:     "send",
		Type:     models.NodeTypeTool,
		ToolName: "notify",
		Parameters: map[string]any{
			"to":      "{{ .context.user }}",
			"subject": "hello",
		},
	}

	_, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"to": "ada", "subject": "hello"}, received)
}

func TestToolContextParameterField(t *testing.T) {
	var received map[string]any
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "lookup",
		Function: func(_ context.Context, args any) (any, error) {
			received = args.(map[string]any)
			return "found", nil
		},
	})

	rt := runtimeWith(t, map[string]any{"lookup_args": map[string]any{"id": float64(7)}}, registry)
	node := &models.NodeConfig{
		Name:                  "find",
		Type:                  models.NodeTypeTool,
		ToolName:              "lookup",
		ContextParameterField: "lookup_args",
	}

	_, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(7)}, received)
}

func TestToolProcessAccumulated(t *testing.T) {
	var received []any
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name:               "aggregate",
		ProcessAccumulated: true,
		Function: func(_ context.Context, args any) (any, error) {
			received = args.([]any)
			return len(received), nil
		},
	})

	rt := runtimeWith(t, nil, registry)
	require.NoError(t, rt.Context.SetField("scores", float64(1)))
	require.NoError(t, rt.Context.SetField("scores", float64(2)))
	require.NoError(t, rt.Context.SetField("scores", float64(3)))
	rt.Context.ResetJournal()

	node := &models.NodeConfig{
		Name:                  "sum",
		Type:                  models.NodeTypeTool,
		ToolName:              "aggregate",
		ContextParameterField: "scores",
	}

	_, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, rt.Context.Accumulated("scores"), received)
}

func TestToolFailureSignalPath(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name:          "flaky",
		MaxRetries:    2,
		FailureSignal: "API_FAILED",
		Function: func(_ context.Context, _ any) (any, error) {
			return nil, errors.New("boom")
		},
	})

	rt := runtimeWith(t, nil, registry)
	node := &models.NodeConfig{
		Name:        "call",
		Type:        models.NodeTypeTool,
		ToolName:    "flaky",
		OutputField: "api_result",
		EventEmissions: []models.Emission{
			{SignalName: "API_OK", Condition: "{{ if .result.ok }}true{{ end }}"},
		},
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, []string{"API_FAILED"}, result.Signals)
	assert.Equal(t, 3, rt.Context.Operational().ToolCalls)
	assert.Equal(t, 1, rt.Context.Operational().Errors)

	// The error message lands in the output field.
	stored, ok := rt.Context.Field("api_result")
	require.True(t, ok)
	assert.Contains(t, stored.(string), "boom")
}

func TestToolFailureWithoutSignalIsFatal(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "dies",
		Function: func(_ context.Context, _ any) (any, error) {
			return nil, errors.New("dead")
		},
	})

	rt := runtimeWith(t, nil, registry)
	node := &models.NodeConfig{Name: "call", Type: models.NodeTypeTool, ToolName: "dies"}

	_, err := New().Execute(context.Background(), rt, node)
	require.Error(t, err)
}

func TestToolRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name:       "eventually",
		MaxRetries: 3,
		Function: func(_ context.Context, _ any) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("not yet")
			}
			return "ok", nil
		},
	})

	rt := runtimeWith(t, nil, registry)
	node := &models.NodeConfig{Name: "call", Type: models.NodeTypeTool, ToolName: "eventually"}

	_, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, rt.Context.Operational().ToolCalls)
	assert.Zero(t, rt.Context.Operational().Errors)
}

func TestToolUnknownNameIsFatal(t *testing.T) {
	rt := runtimeWith(t, nil, tools.NewRegistry())
	node := &models.NodeConfig{Name: "call", Type: models.NodeTypeTool, ToolName: "ghost"}

	_, err := New().Execute(context.Background(), rt, node)
	require.Error(t, err)
}
