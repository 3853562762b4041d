// Package orchestrator is the engine entry point: Orchestrate initializes
// or inherits an execution and runs its initial signals to quiescence;
// BroadcastSignals resumes an existing execution. The dispatcher inside
// owns the per-execution FIFO signal queue.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/config"
	"github.com/soehq/soe/pkg/eventbus"
	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/llm"
	"github.com/soehq/soe/pkg/log"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/nodes/agent"
	"github.com/soehq/soe/pkg/nodes/child"
	"github.com/soehq/soe/pkg/nodes/llmnode"
	"github.com/soehq/soe/pkg/nodes/router"
	"github.com/soehq/soe/pkg/nodes/tool"
	"github.com/soehq/soe/pkg/tools"
)

// defaultMaxAgentTurns bounds agent loops when the embedder does not
// configure a ceiling. A safety knob, not a semantic: the model is expected
// to finish on its own well before this.
const defaultMaxAgentTurns = 20

// Engine runs workflows against a backend set.
type Engine struct {
	backends      backends.Backends
	tools         *tools.Registry
	callModel     llm.CallFunc
	handlers      map[models.NodeType]nodes.Handler
	logger        *slog.Logger
	maxAgentTurns int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTools sets the embedder's tool registry.
func WithTools(reg *tools.Registry) Option {
	return func(e *Engine) { e.tools = reg }
}

// WithModelCaller wires the model provider.
func WithModelCaller(call llm.CallFunc) Option {
	return func(e *Engine) { e.callModel = call }
}

// WithMaxAgentTurns sets the engine-level agent loop ceiling.
func WithMaxAgentTurns(turns int) Option {
	return func(e *Engine) { e.maxAgentTurns = turns }
}

// WithLogger overrides the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds an engine. The context and workflow backends are required.
func New(b backends.Backends, opts ...Option) (*Engine, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		backends:      b,
		tools:         tools.NewRegistry(),
		logger:        log.WithModule("orchestrator"),
		maxAgentTurns: defaultMaxAgentTurns,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.handlers = map[models.NodeType]nodes.Handler{}
	for _, h := range []nodes.Handler{router.New(), tool.New(), llmnode.New(), agent.New(), child.New()} {
		e.handlers[h.Type()] = h
	}
	return e, nil
}

// Request are the arguments to Orchestrate. Config or ConfigYAML supplies
// the workflow definitions; either may be replaced by InheritConfigFromID.
type Request struct {
	Config               *models.Config
	ConfigYAML           []byte
	InitialWorkflowName  string
	InitialSignals       []string
	InitialContext       map[string]any
	InheritConfigFromID  string
	InheritContextFromID string
}

// Orchestrate initializes an execution, seeds its signals, and dispatches
// to quiescence. It returns the new execution id; on a fatal mid-run
// failure the id is returned alongside the error so committed state stays
// addressable.
func (e *Engine) Orchestrate(ctx context.Context, req Request) (string, error) {
	if req.InitialWorkflowName == "" {
		return "", models.NewValidationError("", "", "'initial_workflow_name' is required")
	}
	if len(req.InitialSignals) == 0 {
		return "", models.NewValidationError("", "", "'initial_signals' must contain at least one signal")
	}
	if req.Config == nil && req.ConfigYAML == nil && req.InheritConfigFromID == "" {
		return "", models.NewValidationError("", "", "either 'config' or 'inherit_config_from_id' must be provided")
	}

	executionID := uuid.NewString()

	registry, err := e.resolveRegistry(ctx, executionID, req)
	if err != nil {
		return "", err
	}

	e.backends.LogEvent(ctx, executionID, events.OrchestrationStart, map[string]any{
		"workflow_name": req.InitialWorkflowName,
	})

	if err := e.backends.Workflow.SaveWorkflowsRegistry(ctx, executionID, registry); err != nil {
		return "", fmt.Errorf("save workflows registry: %w", err)
	}
	if _, ok := registry[req.InitialWorkflowName]; !ok {
		return "", models.NewValidationError(req.InitialWorkflowName, "", "initial workflow not found in registry")
	}
	if err := e.backends.Workflow.SaveCurrentWorkflowName(ctx, executionID, req.InitialWorkflowName); err != nil {
		return "", fmt.Errorf("save current workflow name: %w", err)
	}

	c, err := e.prepareInitialContext(ctx, req)
	if err != nil {
		return "", err
	}
	c.InitOperational(executionID)
	if err := e.backends.Context.SaveContext(ctx, executionID, c); err != nil {
		return "", fmt.Errorf("save context: %w", err)
	}

	if err := e.run(ctx, executionID, req.InitialSignals, nil); err != nil {
		return executionID, err
	}
	return executionID, nil
}

// BroadcastSignals resumes an existing execution with new signals and runs
// it to quiescence. Operational counters and signal history are preserved.
func (e *Engine) BroadcastSignals(ctx context.Context, executionID string, signals []string) error {
	c, err := e.backends.Context.GetContext(ctx, executionID)
	if err != nil {
		return err
	}
	if c.Operational() == nil {
		return fmt.Errorf("execution %q: %w", executionID, models.ErrExecutionNotFound)
	}
	return e.run(ctx, executionID, signals, nil)
}

// AttachBus subscribes the engine to a signal-broadcast transport so
// published broadcasts resume their executions on this process.
func (e *Engine) AttachBus(ctx context.Context, bus eventbus.Broadcaster) error {
	bus.Handle(func(ctx context.Context, executionID string, signals []string) error {
		return e.BroadcastSignals(ctx, executionID, signals)
	})
	return bus.Subscribe(ctx)
}

// resolveRegistry applies the config/inheritance precedence: an inherited
// registry first, overridden by an explicit config when both are present.
// Identities and context schema travel with whichever source supplied them.
func (e *Engine) resolveRegistry(ctx context.Context, executionID string, req Request) (models.Registry, error) {
	var registry models.Registry

	if req.InheritConfigFromID != "" {
		e.backends.LogEvent(ctx, executionID, events.ConfigInheritanceStart, map[string]any{
			"source_execution_id": req.InheritConfigFromID,
		})
		source, err := e.backends.Workflow.GetWorkflowsRegistry(ctx, req.InheritConfigFromID)
		if err != nil {
			return nil, fmt.Errorf("cannot inherit config from execution %q: %w", req.InheritConfigFromID, err)
		}
		registry = source.Clone()

		if e.backends.Identity != nil {
			identities, err := e.backends.Identity.GetIdentities(ctx, req.InheritConfigFromID)
			if err != nil {
				return nil, err
			}
			if len(identities) > 0 {
				if err := e.backends.Identity.SaveIdentities(ctx, executionID, identities); err != nil {
					return nil, err
				}
			}
		}
		if e.backends.Schema != nil {
			schema, err := e.backends.Schema.GetContextSchema(ctx, req.InheritConfigFromID)
			if err != nil {
				return nil, err
			}
			if len(schema) > 0 {
				if err := e.backends.Schema.SaveContextSchema(ctx, executionID, schema); err != nil {
					return nil, err
				}
			}
		}
	}

	cfg := req.Config
	if cfg == nil && req.ConfigYAML != nil {
		loaded, err := config.Load(req.ConfigYAML)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if cfg != nil {
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	if cfg != nil {
		registry = cfg.Workflows.Clone()
		if len(cfg.Identities) > 0 && e.backends.Identity != nil {
			if err := e.backends.Identity.SaveIdentities(ctx, executionID, cfg.Identities); err != nil {
				return nil, err
			}
		}
		if len(cfg.ContextSchema) > 0 && e.backends.Schema != nil {
			if err := e.backends.Schema.SaveContextSchema(ctx, executionID, cfg.ContextSchema); err != nil {
				return nil, err
			}
		}
	}

	return registry, nil
}

// prepareInitialContext builds the starting context: a copy of the
// inherited fields when requested (operational state always reset), with
// initial-context entries appended via SetField so history is preserved.
func (e *Engine) prepareInitialContext(ctx context.Context, req Request) (*models.Context, error) {
	var c *models.Context
	if req.InheritContextFromID != "" {
		source, err := e.backends.Context.GetContext(ctx, req.InheritContextFromID)
		if err != nil {
			return nil, err
		}
		if source.Empty() {
			return nil, fmt.Errorf("cannot inherit context from execution %q: %w", req.InheritContextFromID, models.ErrExecutionNotFound)
		}
		c = source.CloneFields()
	} else {
		c = models.NewContext()
	}

	for name, value := range req.InitialContext {
		if models.IsReservedField(name) {
			continue
		}
		if err := c.SetField(name, value); err != nil {
			return nil, err
		}
	}
	c.ResetJournal()
	return c, nil
}
