// Package child implements the sub-orchestration node: it seeds a child
// context from the parent, sets the __parent__ protocol metadata, and runs
// the child workflow to quiescence under its own dispatcher. With a
// fan_out_field it spawns one child per element of the field's accumulated
// history.
package child

import (
	"context"
	"time"

	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
)

type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) Type() models.NodeType { return models.NodeTypeChild }

func (h *Handler) Execute(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig) (*nodes.Result, error) {
	if node.FanOutField == "" {
		childCtx := h.childContext(rt, node, nil)
		if err := h.spawn(ctx, rt, node, childCtx); err != nil {
			return nil, err
		}
		return &nodes.Result{}, nil
	}

	// Fan-out: the accumulated history is read once, at spawn time.
	items := rt.Context.Accumulated(node.FanOutField)
	for i, item := range items {
		if i > 0 && node.SpawnInterval > 0 {
			time.Sleep(time.Duration(node.SpawnInterval * float64(time.Second)))
		}
		childCtx := h.childContext(rt, node, func(c *models.Context) error {
			return c.SetField(node.ChildInputField, item)
		})
		if err := h.spawn(ctx, rt, node, childCtx); err != nil {
			return nil, err
		}
	}
	return &nodes.Result{}, nil
}

func (h *Handler) spawn(ctx context.Context, rt *nodes.Runtime, node *models.NodeConfig, childCtx *models.Context) error {
	rt.Backends.LogEvent(ctx, rt.ExecutionID, events.ChildSpawn, map[string]any{
		"node_name":      node.Name,
		"child_workflow": node.ChildWorkflowName,
	})
	return rt.SpawnChild(ctx, nodes.ChildSpawn{
		WorkflowName:   node.ChildWorkflowName,
		InitialSignals: node.ChildInitialSignals,
		InitialContext: childCtx,
	})
}

// childContext seeds the child with copies of the configured input fields'
// current values and the parent protocol metadata.
func (h *Handler) childContext(rt *nodes.Runtime, node *models.NodeConfig, extra func(*models.Context) error) *models.Context {
	c := models.NewContext()
	for _, field := range node.InputFields {
		if value, ok := rt.Context.Field(field); ok {
			_ = c.SetField(field, value)
		}
	}
	if extra != nil {
		_ = extra(c)
	}
	c.SetParent(&models.ParentInfo{
		ParentExecutionID:      rt.ExecutionID,
		MainExecutionID:        rt.MainExecutionID(),
		SignalsToParent:        node.SignalsToParent,
		ContextUpdatesToParent: node.ContextUpdatesToParent,
	})
	c.ResetJournal()
	return c
}
