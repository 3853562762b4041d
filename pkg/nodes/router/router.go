// Package router implements the pure control-flow node: it evaluates its
// emission conditions against the context and emits the truthy ones. It
// never mutates context and never calls external services.
package router

import (
	"context"

	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/template"
)

type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) Type() models.NodeType { return models.NodeTypeRouter }

func (h *Handler) Execute(_ context.Context, rt *nodes.Runtime, node *models.NodeConfig) (*nodes.Result, error) {
	view := template.ViewFor(rt.Context)
	signals, err := template.EvaluateEmissions(node.EventEmissions, view)
	if err != nil {
		return nil, err
	}
	return &nodes.Result{Signals: signals}, nil
}
