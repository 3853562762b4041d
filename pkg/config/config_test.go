package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soehq/soe/pkg/models"
)

const combinedConfig = `
workflows:
  main:
    gate:
      node_type: router
      event_triggers: [START]
      event_emissions:
        - signal_name: GO
          condition: "{{ if .context.ready }}true{{ end }}"
    work:
      node_type: child
      event_triggers: [GO]
      child_workflow_name: helper
      child_initial_signals: [BEGIN]
  helper:
    step:
      node_type: router
      event_triggers: [BEGIN]
context_schema:
  summary:
    type: string
    description: Result summary
identities:
  analyst: You are a careful analyst.
`

func TestLoadCombinedConfig(t *testing.T) {
	cfg, err := Load([]byte(combinedConfig))
	require.NoError(t, err)

	require.Contains(t, cfg.Workflows, "main")
	require.Contains(t, cfg.Workflows, "helper")
	assert.Equal(t, "gate", cfg.Workflows["main"].Nodes[0].Name)
	assert.Equal(t, models.NodeTypeChild, cfg.Workflows["main"].Nodes[1].Type)
	assert.Equal(t, "string", cfg.ContextSchema["summary"].Type)
	assert.Equal(t, "You are a careful analyst.", cfg.Identities["analyst"])
}

func TestLoadLegacyConfig(t *testing.T) {
	legacy := `
main:
  only:
    node_type: router
    event_triggers: [START]
`
	cfg, err := Load([]byte(legacy))
	require.NoError(t, err)
	require.Contains(t, cfg.Workflows, "main")
	assert.Equal(t, "only", cfg.Workflows["main"].Nodes[0].Name)
	assert.Nil(t, cfg.ContextSchema)
}

func TestLoadRejectsUnknownNodeField(t *testing.T) {
	bad := `
workflows:
  main:
    n:
      node_type: router
      event_triggers: [START]
      not_a_field: 1
`
	_, err := Load([]byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_a_field")
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name: "unknown node type",
			yaml: `
workflows:
  main:
    n:
      node_type: teleport
      event_triggers: [START]
`,
			wantMsg: "unknown node_type",
		},
		{
			name: "router with plain text condition",
			yaml: `
workflows:
  main:
    n:
      node_type: router
      event_triggers: [START]
      event_emissions:
        - signal_name: GO
          condition: when things look good
`,
			wantMsg: "plain text",
		},
		{
			name: "tool with both parameter sources",
			yaml: `
workflows:
  main:
    n:
      node_type: tool
      tool_name: pay
      event_triggers: [START]
      parameters:
        amount: 3
      context_parameter_field: pay_args
`,
			wantMsg: "mutually exclusive",
		},
		{
			name: "tool without tool name",
			yaml: `
workflows:
  main:
    n:
      node_type: tool
      event_triggers: [START]
`,
			wantMsg: "tool_name",
		},
		{
			name: "llm without prompt",
			yaml: `
workflows:
  main:
    n:
      node_type: llm
      event_triggers: [START]
`,
			wantMsg: "prompt",
		},
		{
			name: "child referencing absent workflow",
			yaml: `
workflows:
  main:
    n:
      node_type: child
      event_triggers: [START]
      child_workflow_name: ghost
      child_initial_signals: [GO]
`,
			wantMsg: "not defined",
		},
		{
			name: "fan out without child input field",
			yaml: `
workflows:
  main:
    n:
      node_type: child
      event_triggers: [START]
      child_workflow_name: main
      child_initial_signals: [GO]
      fan_out_field: items
`,
			wantMsg: "child_input_field",
		},
		{
			name: "reserved node name",
			yaml: `
workflows:
  main:
    __hidden:
      node_type: router
      event_triggers: [START]
`,
			wantMsg: "reserved",
		},
		{
			name: "empty workflow",
			yaml: `
workflows:
  main: {}
`,
			wantMsg: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
			var validationErr *models.ValidationError
			assert.True(t, errors.As(err, &validationErr), "want ValidationError, got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseNode(t *testing.T) {
	node, err := ParseNode("checker", `{"node_type": "router", "event_triggers": ["GO"]}`)
	require.NoError(t, err)
	assert.Equal(t, "checker", node.Name)
	assert.Equal(t, models.NodeTypeRouter, node.Type)

	_, err = ParseNode("bad", `{"node_type": "router", "bogus": 1}`)
	require.Error(t, err)
}

func TestParseWorkflow(t *testing.T) {
	wf, err := ParseWorkflow(`
first:
  node_type: router
  event_triggers: [GO]
second:
  node_type: router
  event_triggers: [GO]
`)
	require.NoError(t, err)
	require.Len(t, wf.Nodes, 2)
	assert.Equal(t, "first", wf.Nodes[0].Name)
}
