package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soehq/soe/pkg/backends/memory"
	"github.com/soehq/soe/pkg/log"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
)

func runtimeWith(t *testing.T, fields map[string]any) *nodes.Runtime {
	t.Helper()
	c := models.ContextFromInitial(fields)
	c.InitOperational("e1")
	return &nodes.Runtime{
		ExecutionID: "e1",
		Context:     c,
		Backends:    memory.New(),
		Logger:      log.WithModule("test"),
	}
}

func TestRouterEmitsTruthyConditions(t *testing.T) {
	rt := runtimeWith(t, map[string]any{"data": float64(1)})
	node := &models.NodeConfig{
		Name: "validate",
		Type: models.NodeTypeRouter,
		EventEmissions: []models.Emission{
			{SignalName: "HAS", Condition: "{{ if .context.data }}true{{ end }}"},
			{SignalName: "NO", Condition: "{{ if not .context.data }}true{{ end }}"},
		},
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, []string{"HAS"}, result.Signals)
}

func TestRouterComplementaryConditionsEmitExactlyOne(t *testing.T) {
	node := &models.NodeConfig{
		Name: "validate",
		Type: models.NodeTypeRouter,
		EventEmissions: []models.Emission{
			{SignalName: "HAS", Condition: "{{ if .context.data }}true{{ end }}"},
			{SignalName: "NO", Condition: "{{ if not .context.data }}true{{ end }}"},
		},
	}

	withField, err := New().Execute(context.Background(), runtimeWith(t, map[string]any{"data": "x"}), node)
	require.NoError(t, err)
	without, err := New().Execute(context.Background(), runtimeWith(t, nil), node)
	require.NoError(t, err)

	assert.Len(t, withField.Signals, 1)
	assert.Len(t, without.Signals, 1)
	assert.NotEqual(t, withField.Signals, without.Signals)
}

func TestRouterUnconditionalEmission(t *testing.T) {
	rt := runtimeWith(t, nil)
	node := &models.NodeConfig{
		Name:           "next",
		Type:           models.NodeTypeRouter,
		EventEmissions: []models.Emission{{SignalName: "DONE"}},
	}

	result, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Equal(t, []string{"DONE"}, result.Signals)
}

func TestRouterMalformedConditionIsFatal(t *testing.T) {
	rt := runtimeWith(t, nil)
	node := &models.NodeConfig{
		Name:           "broken",
		Type:           models.NodeTypeRouter,
		EventEmissions: []models.Emission{{SignalName: "X", Condition: "{{ if }}"}},
	}

	_, err := New().Execute(context.Background(), rt, node)
	require.Error(t, err)
}

func TestRouterNeverMutatesContext(t *testing.T) {
	rt := runtimeWith(t, map[string]any{"data": "x"})
	node := &models.NodeConfig{
		Name:           "v",
		Type:           models.NodeTypeRouter,
		EventEmissions: []models.Emission{{SignalName: "GO"}},
	}

	_, err := New().Execute(context.Background(), rt, node)
	require.NoError(t, err)
	assert.Empty(t, rt.Context.Journal())
}
