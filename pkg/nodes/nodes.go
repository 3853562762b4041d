// Package nodes defines the node-activation contract: a handler receives
// the triggering signal, a staged context, and the engine services, runs
// one node to completion, and returns the signals to enqueue. The
// dispatcher commits the staged context only when the handler succeeds.
package nodes

import (
	"context"
	"log/slog"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/llm"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/tools"
)

// Result is what a handler hands back to the dispatcher.
type Result struct {
	// Signals are enqueued in emission order.
	Signals []string
}

// ChildSpawn describes one sub-orchestration to run.
type ChildSpawn struct {
	WorkflowName   string
	InitialSignals []string
	InitialContext *models.Context
}

// Runtime carries the services a handler may use. All context mutation goes
// through Context, which is the handler's staged copy.
type Runtime struct {
	ExecutionID string
	// Signal is the signal that triggered this activation.
	Signal string
	// CurrentWorkflow is the execution's current workflow name.
	CurrentWorkflow string
	// Context is the staged per-handler context copy.
	Context *models.Context
	// Backends is the persistence layer. Handlers read identities, schema
	// and conversation history here; context writes stay on Context.
	Backends backends.Backends
	// Tools is the per-activation registry: the embedder's tools plus the
	// engine built-ins bound to this execution.
	Tools *tools.Registry
	// CallModel invokes the model provider; nil when no provider is wired.
	CallModel llm.CallFunc
	// SpawnChild runs a child orchestration to quiescence. Wired by the
	// dispatcher; only child handlers call it.
	SpawnChild func(ctx context.Context, spawn ChildSpawn) error
	// MaxAgentTurns bounds the agent loop as an engine-level safety knob.
	MaxAgentTurns int
	Logger        *slog.Logger
}

// MainExecutionID returns the orchestration tree root id.
func (rt *Runtime) MainExecutionID() string {
	if op := rt.Context.Operational(); op != nil {
		return op.MainExecutionID
	}
	return rt.ExecutionID
}

// RecordLLMCall accounts one model invocation.
func (rt *Runtime) RecordLLMCall(ctx context.Context, node *models.NodeConfig) {
	rt.Context.Operational().LLMCalls++
	rt.Backends.LogEvent(ctx, rt.ExecutionID, events.LLMCall, map[string]any{
		"node_name": node.Name,
		"identity":  node.Identity,
	})
}

// RecordToolCall accounts one tool invocation.
func (rt *Runtime) RecordToolCall(ctx context.Context, eventType events.Type, toolName string) {
	rt.Context.Operational().ToolCalls++
	rt.Backends.LogEvent(ctx, rt.ExecutionID, eventType, map[string]any{"tool_name": toolName})
}

// RecordError accounts one raised failure absorbed by a failure-signal path.
func (rt *Runtime) RecordError(ctx context.Context, node *models.NodeConfig, errMessage string) {
	rt.Context.Operational().Errors++
	rt.Backends.LogEvent(ctx, rt.ExecutionID, events.NodeError, map[string]any{
		"node_name": node.Name,
		"node_type": string(node.Type),
		"error":     errMessage,
	})
}

// Warn forwards non-fatal rendering warnings to telemetry.
func (rt *Runtime) Warn(ctx context.Context, node *models.NodeConfig, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	rt.Backends.LogEvent(ctx, rt.ExecutionID, events.ContextWarning, map[string]any{
		"node_name": node.Name,
		"warnings":  warnings,
	})
}

// Handler executes one node kind.
type Handler interface {
	Type() models.NodeType
	Execute(ctx context.Context, rt *Runtime, node *models.NodeConfig) (*Result, error)
}
