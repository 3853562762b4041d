// Package llmnode implements the single-shot model-call node: render one
// prompt, call the model under the structured-output contract, store the
// response, and select emissions either programmatically or through the
// model's signal selection.
package llmnode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soehq/soe/pkg/llm"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/template"
)

type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) Type() models.NodeType { return models.NodeTypeLLM }

func (h *Handler) Execute(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig) (*nodes.Result, error) {
	if rt.CallModel == nil {
		return nil, fmt.Errorf("node %q: no model caller configured", node.Name)
	}

	view := template.ViewFor(rt.Context)
	renderedPrompt, warnings, err := template.Render(node.Prompt, view)
	if err != nil {
		return nil, err
	}
	rt.Warn(ctx, node, warnings)

	historyKey, history, err := llm.LoadHistory(ctx, rt.Backends, rt.MainExecutionID(), node.Identity)
	if err != nil {
		return nil, err
	}

	contract := llm.BuildContract(
		node.OutputField,
		h.outputEntry(ctx, rt, node),
		models.SemanticSignalOptions(node.EventEmissions),
	)

	prompt := composePrompt(renderedPrompt, contextText(rt, node), llm.FormatHistory(history))

	response, err := llm.Resolve(ctx, rt.CallModel, prompt, node, contract, node.RetryBudget(), func() {
		rt.RecordLLMCall(ctx, node)
	})
	if err != nil {
		return h.handleFailure(ctx, rt, node, err)
	}

	if node.OutputField != "" {
		if err := rt.Context.SetField(node.OutputField, response.Output); err != nil {
			return nil, err
		}
	}

	if err := llm.SaveTurn(ctx, rt.Backends, historyKey, renderedPrompt, outputText(response.Output)); err != nil {
		return nil, err
	}

	signals, err := selectEmissions(node, response, template.ViewFor(rt.Context))
	if err != nil {
		return nil, err
	}
	return &nodes.Result{Signals: signals}, nil
}

func (h *Handler) handleFailure(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig, callErr error) (*nodes.Result, error) {
	if node.LLMFailureSignal == "" {
		return nil, fmt.Errorf("node %q: %w", node.Name, callErr)
	}
	rt.RecordError(ctx, node, callErr.Error())
	return &nodes.Result{Signals: []string{node.LLMFailureSignal}}, nil
}

// outputEntry looks up the field-schema entry for the node's output field,
// keyed by the orchestration tree root.
func (h *Handler) outputEntry(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig) *models.SchemaEntry {
	if node.OutputField == "" || rt.Backends.Schema == nil {
		return nil
	}
	schema, err := rt.Backends.Schema.GetContextSchema(ctx, rt.MainExecutionID())
	if err != nil || schema == nil {
		return nil
	}
	return schema[node.OutputField]
}

// selectEmissions applies the emission-priority contract: template
// conditions pre-empt model selection, model selection pre-empts the
// zero-or-one unconditional case.
func selectEmissions(node *models.NodeConfig, response *llm.Response, view template.View) ([]string, error) {
	emissions := node.EventEmissions

	if models.HasTemplateConditions(emissions) {
		return template.EvaluateEmissions(emissions, view)
	}

	if response.SelectedSignals != nil {
		declared := map[string]bool{}
		for _, e := range emissions {
			declared[e.SignalName] = true
		}
		var signals []string
		for _, s := range response.SelectedSignals {
			if declared[s] {
				signals = append(signals, s)
			}
		}
		return signals, nil
	}

	var signals []string
	for _, e := range emissions {
		if e.SignalName != "" {
			signals = append(signals, e.SignalName)
		}
	}
	return signals, nil
}

// contextText renders the context fields the prompt references as JSON for
// the model.
func contextText(rt *nodes.Runtime, node *models.NodeConfig) string {
	referenced := template.ReferencedFields(node.Prompt)
	if len(referenced) == 0 {
		return ""
	}
	snapshot := rt.Context.Snapshot()
	filtered := map[string]any{}
	for _, field := range referenced {
		if v, ok := snapshot[field]; ok {
			filtered[field] = v
		}
	}
	if len(filtered) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func composePrompt(prompt, contextJSON, historyText string) string {
	parts := []string{prompt}
	if contextJSON != "" {
		parts = append(parts, "Context:\n"+contextJSON)
	}
	if historyText != "" {
		parts = append(parts, "Conversation so far:\n"+historyText)
	}
	return strings.Join(parts, "\n\n")
}

func outputText(output any) string {
	if s, ok := output.(string); ok {
		return s
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}
