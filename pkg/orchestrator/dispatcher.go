package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/soehq/soe/pkg/events"
	"github.com/soehq/soe/pkg/models"
	"github.com/soehq/soe/pkg/nodes"
	"github.com/soehq/soe/pkg/tools"
)

// dispatcher drains one execution's FIFO signal queue. Single-threaded and
// cooperative: each handler runs to completion before the next starts.
// Child executions run under their own dispatcher, linked back here so
// parent-bound signals dispatch on the parent while the child node is still
// active, which is what lets a fan-out join observe incremental state.
type dispatcher struct {
	engine      *Engine
	executionID string
	queue       []string
	parentInfo  *models.ParentInfo
	// parent is the live parent loop for in-process child runs; nil when a
	// persisted child execution is resumed on its own.
	parent *dispatcher
	// deferredParentSignals collects parent-bound signals when no live
	// parent loop exists; they resume the parent after quiescence.
	deferredParentSignals []string
}

// run drains signals to quiescence. A handler error is fatal: the loop
// stops, everything committed up to the last successful node stays.
func (e *Engine) run(ctx context.Context, executionID string, signals []string, parent *dispatcher) error {
	c, err := e.backends.Context.GetContext(ctx, executionID)
	if err != nil {
		return err
	}
	if c.Operational() == nil {
		return fmt.Errorf("execution %q: %w", executionID, models.ErrExecutionNotFound)
	}

	d := &dispatcher{
		engine:      e,
		executionID: executionID,
		parentInfo:  c.Parent(),
		parent:      parent,
	}
	if err := d.enqueue(ctx, signals...); err != nil {
		return err
	}

	for len(d.queue) > 0 {
		signal := d.queue[0]
		d.queue = d.queue[1:]

		if err := d.dispatch(ctx, signal); err != nil {
			return err
		}
	}

	return d.flushDeferredParentSignals(ctx)
}

// dispatch processes one signal: record it, find the triggered nodes in
// declared order, run each handler, commit, and enqueue emissions. A signal
// matched by no node is recorded and produces no activations.
func (d *dispatcher) dispatch(ctx context.Context, signal string) error {
	e := d.engine

	c, err := e.backends.Context.GetContext(ctx, d.executionID)
	if err != nil {
		return err
	}
	op := c.Operational()
	if op == nil {
		return fmt.Errorf("execution %q: %w", d.executionID, models.ErrExecutionNotFound)
	}
	op.Signals = append(op.Signals, signal)
	if err := e.backends.Context.SaveContext(ctx, d.executionID, c); err != nil {
		return err
	}
	e.backends.LogEvent(ctx, d.executionID, events.SignalsBroadcast, map[string]any{"signal": signal})

	// The registry is re-read per signal so in-flight injections via the
	// built-in tools take effect immediately.
	registry, err := e.backends.Workflow.GetWorkflowsRegistry(ctx, d.executionID)
	if err != nil {
		return fmt.Errorf("load workflows registry: %w", err)
	}
	workflowName, err := e.backends.Workflow.GetCurrentWorkflowName(ctx, d.executionID)
	if err != nil {
		return fmt.Errorf("load current workflow name: %w", err)
	}
	workflow, ok := registry[workflowName]
	if !ok {
		return nil
	}

	for _, node := range workflow.Triggered(signal) {
		if strings.HasPrefix(string(node.Type), "_") {
			continue
		}
		if err := d.activate(ctx, signal, workflowName, node); err != nil {
			return fmt.Errorf("node %q: %w", node.Name, err)
		}
	}
	return nil
}

// activate runs one handler against a staged context copy. On success the
// staged writes and counter deltas merge onto freshly loaded backend state,
// so commits interleave safely with child executions syncing fields into
// this execution mid-activation. On failure nothing is applied.
func (d *dispatcher) activate(ctx context.Context, signal, workflowName string, node *models.NodeConfig) error {
	e := d.engine

	handler, ok := e.handlers[node.Type]
	if !ok {
		return fmt.Errorf("unknown node_type %q", node.Type)
	}

	staged, err := e.backends.Context.GetContext(ctx, d.executionID)
	if err != nil {
		return err
	}
	staged.ResetJournal()
	baseline := *staged.Operational()

	e.backends.LogEvent(ctx, d.executionID, events.NodeExecution, map[string]any{
		"node_name": node.Name,
		"node_type": string(node.Type),
		"signal":    signal,
	})

	result, err := handler.Execute(ctx, e.runtime(d, signal, workflowName, staged), node)
	if err != nil {
		return err
	}

	if err := d.commit(ctx, node, staged, baseline); err != nil {
		return err
	}

	if d.parentInfo != nil {
		for _, write := range staged.Journal() {
			if d.parentInfo.WantsField(write.Field) {
				if err := e.syncFieldToParent(ctx, d.parentInfo.ParentExecutionID, write.Field, write.Value); err != nil {
					return err
				}
			}
		}
	}

	if result != nil {
		return d.enqueue(ctx, result.Signals...)
	}
	return nil
}

// commit applies a successful handler's effects atomically: the journaled
// field writes, the counter deltas against the pre-handler baseline, and
// the node activation count.
func (d *dispatcher) commit(ctx context.Context, node *models.NodeConfig, staged *models.Context, baseline models.Operational) error {
	e := d.engine

	fresh, err := e.backends.Context.GetContext(ctx, d.executionID)
	if err != nil {
		return err
	}
	for _, write := range staged.Journal() {
		if err := fresh.SetField(write.Field, write.Value); err != nil {
			return err
		}
	}

	op := fresh.Operational()
	stagedOp := staged.Operational()
	op.LLMCalls += stagedOp.LLMCalls - baseline.LLMCalls
	op.ToolCalls += stagedOp.ToolCalls - baseline.ToolCalls
	op.Errors += stagedOp.Errors - baseline.Errors
	op.Nodes[node.Name]++

	return e.backends.Context.SaveContext(ctx, d.executionID, fresh)
}

// enqueue appends signals in emission order. Parent-bound signals dispatch
// immediately on the live parent loop, mid-activation, so the parent
// observes them interleaved with this child's progress; without a live
// parent they are deferred until quiescence.
func (d *dispatcher) enqueue(ctx context.Context, signals ...string) error {
	for _, signal := range signals {
		d.queue = append(d.queue, signal)

		if d.parentInfo == nil || !d.parentInfo.WantsSignal(signal) {
			continue
		}
		d.engine.backends.LogEvent(ctx, d.executionID, events.SignalsToParent, map[string]any{
			"signal":    signal,
			"parent_id": d.parentInfo.ParentExecutionID,
		})
		if d.parent != nil {
			if err := d.parent.dispatch(ctx, signal); err != nil {
				return err
			}
		} else {
			d.deferredParentSignals = append(d.deferredParentSignals, signal)
		}
	}
	return nil
}

// syncFieldToParent appends one field write to the parent execution's
// context through the backend, recursing up the tree for fields the
// grandparent also wants.
func (e *Engine) syncFieldToParent(ctx context.Context, executionID, field string, value any) error {
	c, err := e.backends.Context.GetContext(ctx, executionID)
	if err != nil {
		return err
	}
	if err := c.SetField(field, value); err != nil {
		return err
	}
	if err := e.backends.Context.SaveContext(ctx, executionID, c); err != nil {
		return err
	}
	e.backends.LogEvent(ctx, executionID, events.ContextSyncToParent, map[string]any{"field": field})

	if p := c.Parent(); p != nil && p.WantsField(field) {
		return e.syncFieldToParent(ctx, p.ParentExecutionID, field, value)
	}
	return nil
}

// flushDeferredParentSignals resumes the parent execution with the signals
// a resumed child produced for it.
func (d *dispatcher) flushDeferredParentSignals(ctx context.Context) error {
	if len(d.deferredParentSignals) == 0 || d.parentInfo == nil {
		return nil
	}
	signals := d.deferredParentSignals
	d.deferredParentSignals = nil
	return d.engine.run(ctx, d.parentInfo.ParentExecutionID, signals, nil)
}

// runtime assembles the handler services for one activation.
func (e *Engine) runtime(d *dispatcher, signal, workflowName string, staged *models.Context) *nodes.Runtime {
	store := &stagedStore{engine: e, executionID: d.executionID, staged: staged}

	registry := e.tools.Clone()
	tools.RegisterBuiltins(registry, tools.Binding{
		ExecutionID:     d.executionID,
		MainExecutionID: staged.Operational().MainExecutionID,
		Backends:        e.backends,
		Contexts:        store,
		OnToolCall: func() {
			staged.Operational().ToolCalls++
		},
	})

	return &nodes.Runtime{
		ExecutionID:     d.executionID,
		Signal:          signal,
		CurrentWorkflow: workflowName,
		Context:         staged,
		Backends:        e.backends,
		Tools:           registry,
		CallModel:       e.callModel,
		MaxAgentTurns:   e.maxAgentTurns,
		Logger:          e.logger,
		SpawnChild: func(ctx context.Context, spawn nodes.ChildSpawn) error {
			return e.spawnChild(ctx, d, spawn)
		},
	}
}

// spawnChild allocates a child execution sharing the parent's registry
// snapshot and runs it to quiescence under its own dispatcher, linked back
// to the parent loop.
func (e *Engine) spawnChild(ctx context.Context, parentDisp *dispatcher, spawn nodes.ChildSpawn) error {
	childID := uuid.NewString()

	registry, err := e.backends.Workflow.GetWorkflowsRegistry(ctx, parentDisp.executionID)
	if err != nil {
		return fmt.Errorf("load workflows registry: %w", err)
	}
	if _, ok := registry[spawn.WorkflowName]; !ok {
		return fmt.Errorf("child workflow %q: %w", spawn.WorkflowName, models.ErrWorkflowNotFound)
	}
	if err := e.backends.Workflow.SaveWorkflowsRegistry(ctx, childID, registry.Clone()); err != nil {
		return err
	}
	if err := e.backends.Workflow.SaveCurrentWorkflowName(ctx, childID, spawn.WorkflowName); err != nil {
		return err
	}

	c := spawn.InitialContext
	c.InitOperational(childID)
	if err := e.backends.Context.SaveContext(ctx, childID, c); err != nil {
		return err
	}

	return e.run(ctx, childID, spawn.InitialSignals, parentDisp)
}

// stagedStore routes built-in tool context access: the current execution
// resolves to the handler's staged copy so tool writes commit atomically
// with the handler; other executions go to the backend.
type stagedStore struct {
	engine      *Engine
	executionID string
	staged      *models.Context
}

func (s *stagedStore) GetContext(ctx context.Context, executionID string) (*models.Context, error) {
	if executionID == s.executionID {
		return s.staged, nil
	}
	return s.engine.backends.Context.GetContext(ctx, executionID)
}

func (s *stagedStore) SaveContext(ctx context.Context, executionID string, c *models.Context) error {
	if executionID == s.executionID {
		// Committed by the dispatcher when the handler succeeds.
		return nil
	}
	return s.engine.backends.Context.SaveContext(ctx, executionID, c)
}

func (s *stagedStore) ListContexts(ctx context.Context) ([]string, error) {
	return s.engine.backends.Context.ListContexts(ctx)
}
