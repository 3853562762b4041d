// Package agent implements the multi-turn model node: a bounded loop in
// which the model either selects a tool to call with a JSON argument object
// or produces the final response. The model decides when to finish; the
// loop is bounded by the node's retries budget on the agent's own model
// step plus the engine-level MaxAgentTurns ceiling.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/llm"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/template"
	"github.com/soehq/soe/pkg/tools"
)

const (
	actionCallTool = "call_tool"
	actionFinish   = "finish"
)

type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) Type() models.NodeType { return models.NodeTypeAgent }

// loopState tracks one agent run: the working conversation, errors, and the
// retry budget consumed by the agent's own failed steps.
type loopState struct {
	conversation []backends.Message
	errors       []string
	retryCount   int
	historyKey   string
}

func (s *loopState) lastError() string {
	if len(s.errors) == 0 {
		return ""
	}
	return s.errors[len(s.errors)-1]
}

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

	state := &loopState{conversation: history, historyKey: historyKey}
	retries := node.RetryBudget()

	agentTools, err := h.resolveTools(rt, node)
	if err != nil {
		return nil, err
	}

	for turn := 0; turn < rt.MaxAgentTurns; turn++ {
		if state.retryCount > retries {
			break
		}

		action, err := h.nextAction(ctx, rt, node, renderedPrompt, state, agentTools, retries)
		if err != nil {
			return h.handleFailure(ctx, rt, node, err.Error())
		}

		switch action.kind {
		case actionFinish:
			return h.finish(ctx, rt, node, renderedPrompt, state, retries)
		case actionCallTool:
			h.callTool(ctx, rt, node, state, agentTools, action)
		}
	}

	message := fmt.Sprintf("agent %q exceeded its execution budget", node.Name)
	if last := state.lastError(); last != "" {
		message += ", last error: " + last
	}
	return h.handleFailure(ctx, rt, node, message)
}

type agentAction struct {
	kind      string
	toolName  string
	arguments map[string]any
}

// nextAction asks the model to pick a tool or finish.
func (h *Handler) nextAction(
	ctx context.Context,
	rt *nodes.Runtime,
	node *models.NodeConfig,
	renderedPrompt string,
	state *loopState,
	agentTools map[string]*tools.Tool,
	retries int,
) (*agentAction, error) {
	raw, err := llm.ResolveRaw(ctx, rt.CallModel, turnPrompt(renderedPrompt, state), node, turnSchema(agentTools), retries, func() {
		rt.RecordLLMCall(ctx, node)
	})
	if err != nil {
		return nil, err
	}

	action := &agentAction{}
	action.kind, _ = raw["action"].(string)
	action.toolName, _ = raw["tool_name"].(string)
	action.arguments, _ = raw["arguments"].(map[string]any)
	return action, nil
}

// callTool executes the selected tool with its registry retry policy and
// folds the outcome back into the conversation.
func (h *Handler) callTool(
	ctx context.Context,
	rt *nodes.Runtime,
	node *models.NodeConfig,
	state *loopState,
	agentTools map[string]*tools.Tool,
	action *agentAction,
) {
	t, ok := agentTools[action.toolName]
	if !ok {
		rt.Backends.LogEvent(ctx, rt.ExecutionID, events.AgentToolNotFound, map[string]any{
			"node_name": node.Name,
			"tool_name": action.toolName,
		})
		h.recordEntry(ctx, rt, state, backends.Message{
			Role:    llm.RoleSystemError,
			Content: fmt.Sprintf("Tool %q not found or not available.", action.toolName),
		})
		state.errors = append(state.errors, fmt.Sprintf("tool %q not available", action.toolName))
		state.retryCount++
		return
	}

	args := action.arguments
	if args == nil {
		args = map[string]any{}
	}

	var result any
	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		rt.RecordToolCall(ctx, events.AgentToolCall, t.Name)
		result, lastErr = t.Function(ctx, args)
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		errMessage := fmt.Sprintf("Error executing %s: %v", t.Name, lastErr)
		h.recordEntry(ctx, rt, state, backends.Message{Role: llm.RoleToolError, ToolName: t.Name, Content: errMessage})
		state.errors = append(state.errors, errMessage)
		if t.FailureSignal != "" {
			// The registry absorbs this failure; it does not consume the
			// agent's retry budget.
			rt.RecordError(ctx, node, errMessage)
			return
		}
		state.retryCount++
		return
	}

	h.recordEntry(ctx, rt, state, backends.Message{Role: llm.RoleTool, ToolName: t.Name, Content: valueText(result)})
}

// finish runs the response stage: final output under the structured
// contract, then emission selection exactly as on llm nodes.
func (h *Handler) finish(
	ctx context.Context,
	rt *nodes.Runtime,
	node *models.NodeConfig,
	renderedPrompt string,
	state *loopState,
	retries int,
) (*nodes.Result, error) {
	contract := llm.BuildContract(
		node.OutputField,
		h.outputEntry(ctx, rt, node),
		models.SemanticSignalOptions(node.EventEmissions),
	)

	prompt := turnPrompt(renderedPrompt, state) + "\n\nProduce your final response."
	response, err := llm.Resolve(ctx, rt.CallModel, prompt, node, contract, retries, func() {
		rt.RecordLLMCall(ctx, node)
	})
	if err != nil {
		return h.handleFailure(ctx, rt, node, err.Error())
	}

	if node.OutputField != "" {
		if err := rt.Context.SetField(node.OutputField, response.Output); err != nil {
			return nil, err
		}
	}

	if state.historyKey != "" {
		if err := llm.SaveTurn(ctx, rt.Backends, state.historyKey, renderedPrompt, valueText(response.Output)); err != nil {
			return nil, err
		}
	}

	signals, err := h.selectEmissions(node, response, template.ViewFor(rt.Context))
	if err != nil {
		return nil, err
	}
	return &nodes.Result{Signals: signals}, nil
}

func (h *Handler) selectEmissions(node *models.NodeConfig, response *llm.Response, view template.View) ([]string, error) {
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

func (h *Handler) handleFailure(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig, message string) (*nodes.Result, error) {
	if node.LLMFailureSignal == "" {
		return nil, fmt.Errorf("node %q: %s", node.Name, message)
	}
	rt.RecordError(ctx, node, message)
	return &nodes.Result{Signals: []string{node.LLMFailureSignal}}, nil
}

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

// resolveTools maps the node's tool list against the registry. An unknown
// name is a configuration error.
func (h *Handler) resolveTools(rt *nodes.Runtime, node *models.NodeConfig) (map[string]*tools.Tool, error) {
	selected := map[string]*tools.Tool{}
	for _, name := range node.AgentTools() {
		t, err := rt.Tools.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", node.Name, err)
		}
		selected[name] = t
	}
	return selected, nil
}

// recordEntry appends to the working conversation and, when an identity is
// set, to the shared history.
func (h *Handler) recordEntry(ctx context.Context, rt *nodes.Runtime, state *loopState, msg backends.Message) {
	state.conversation = append(state.conversation, msg)
	if err := llm.AppendEntry(ctx, rt.Backends, state.historyKey, msg); err != nil {
		rt.Logger.Warn("failed to persist conversation entry", "error", err)
	}
}

// turnSchema builds the action contract: call one of the available tools
// with a JSON argument object, or finish.
func turnSchema(agentTools map[string]*tools.Tool) map[string]any {
	names := make([]any, 0, len(agentTools))
	var toolDocs []string
	for name, t := range agentTools {
		names = append(names, name)
		doc := "- " + name
		if t.Description != "" {
			doc += ": " + t.Description
		}
		if params, err := json.Marshal(t.ParamSchema()); err == nil {
			doc += " (arguments: " + string(params) + ")"
		}
		toolDocs = append(toolDocs, doc)
	}

	properties := map[string]any{
		"action": map[string]any{
			"type": "string",
			"enum": []any{actionCallTool, actionFinish},
			"description": "Call a tool to gather more information, or finish with your final response.\nAvailable tools:\n" +
				strings.Join(toolDocs, "\n"),
		},
		"arguments": map[string]any{
			"type":        "object",
			"description": "Arguments for the selected tool",
		},
	}
	if len(names) > 0 {
		properties["tool_name"] = map[string]any{"type": "string", "enum": names}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   []string{"action"},
	}
}

// turnPrompt folds the working conversation into the prompt.
func turnPrompt(renderedPrompt string, state *loopState) string {
	if len(state.conversation) == 0 {
		return renderedPrompt
	}
	return renderedPrompt + "\n\nConversation so far:\n" + llm.FormatHistory(state.conversation)
}

func valueText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
