// Package tool implements the tool-executor node: it resolves a tool from
// the registry, builds its arguments from rendered parameters or a context
// field, calls it with the registry-configured retry policy, stores the
// result, and routes on conditions over result and context.
package tool

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/template"
	"github.com/soehq/soe/pkg/tools"
)

type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) Type() models.NodeType { return models.NodeTypeTool }

func (h *Handler) Execute(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig) (*nodes.Result, error) {
	t, err := rt.Tools.Resolve(node.ToolName)
	if err != nil {
		return nil, err
	}

	args, err := buildArguments(rt, node, t)
	if err != nil {
		return nil, err
	}

	var result any
	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		rt.RecordToolCall(ctx, events.ToolCall, t.Name)
		result, lastErr = t.Function(ctx, args)
		if lastErr == nil {
			break
		}
		rt.Logger.Warn("tool call failed",
			"tool", t.Name,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	if lastErr != nil {
		return h.handleFailure(ctx, rt, node, t, lastErr)
	}

	if node.OutputField != "" {
		if err := rt.Context.SetField(node.OutputField, result); err != nil {
			return nil, err
		}
	}

	view := template.ViewFor(rt.Context).WithResult(result)
	signals, err := template.EvaluateEmissions(node.EventEmissions, view)
	if err != nil {
		return nil, err
	}
	return &nodes.Result{Signals: signals}, nil
}

// handleFailure routes exhausted retries through the registry's failure
// signal when configured; otherwise the failure is fatal to the dispatch.
func (h *Handler) handleFailure(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig, t *tools.Tool, toolErr error) (*nodes.Result, error) {
	if t.FailureSignal == "" {
		return nil, fmt.Errorf("tool %q failed after %d attempts: %w", t.Name, t.MaxRetries+1, toolErr)
	}

	if node.OutputField != "" {
		if err := rt.Context.SetField(node.OutputField, toolErr.Error()); err != nil {
			return nil, err
		}
	}
	rt.RecordError(ctx, node, toolErr.Error())
	return &nodes.Result{Signals: []string{t.FailureSignal}}, nil
}

// buildArguments resolves the tool arguments: inline parameters rendered as
// templates, or the current (or accumulated) value of a context field.
func buildArguments(rt *nodes.Runtime, node *models.NodeConfig, t *tools.Tool) (any, error) {
	view := template.ViewFor(rt.Context)

	if node.Parameters != nil {
		rendered, err := template.RenderValue(node.Parameters, view)
		if err != nil {
			return nil, err
		}
		return rendered, nil
	}

	if node.ContextParameterField != "" && rt.Context.Has(node.ContextParameterField) {
		if t.ProcessAccumulated {
			return rt.Context.Accumulated(node.ContextParameterField), nil
		}
		value, _ := rt.Context.Field(node.ContextParameterField)
		if text, ok := value.(string); ok {
			parsed := map[string]any{}
			if err := yaml.Unmarshal([]byte(text), &parsed); err != nil {
				return nil, fmt.Errorf("context field %q does not hold a parameter mapping: %w", node.ContextParameterField, err)
			}
			return parsed, nil
		}
		mapping, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("context field %q must hold a parameter mapping, got %T", node.ContextParameterField, value)
		}
		return mapping, nil
	}

	return map[string]any{}, nil
}
