package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soehq/soe/pkg/backends"
	"github.com/soehq/soe/pkg/config"
	"github.com/soehq/soe/pkg/models"
)

// ContextStore is how built-in tools read and write execution contexts.
// The engine routes the current execution to the handler's staged context
// so tool writes commit atomically with the rest of the handler; other
// execution ids go straight to the context backend.
type ContextStore interface {
	GetContext(ctx context.Context, executionID string) (*models.Context, error)
	SaveContext(ctx context.Context, executionID string, c *models.Context) error
	ListContexts(ctx context.Context) ([]string, error)
}

// Binding scopes the built-in tools to one execution.
type Binding struct {
	ExecutionID     string
	MainExecutionID string
	Backends        backends.Backends
	Contexts        ContextStore
	// OnToolCall accounts a tool invocation made on behalf of another tool
	// (soe_call_tool).
	OnToolCall func()
}

// RegisterBuiltins layers the engine tools over a registry. The registry
// passed in is also the resolution scope for soe_call_tool and
// soe_get_available_tools, so callers should Clone their base registry
// first and register the built-ins on the copy.
func RegisterBuiltins(reg *Registry, b Binding) {
	registerWorkflowBuiltins(reg, b)
	registerContextBuiltins(reg, b)
	registerIdentityBuiltins(reg, b)
	registerSchemaBuiltins(reg, b)

	reg.Register(&Tool{
		Name:        "soe_explore_docs",
		Description: "Read engine documentation sections",
		Parameters: objectSchema(map[string]any{
			"section": stringProp("Documentation section name; omit to list sections"),
		}),
		Function: func(_ context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			section, err := stringArg(m, "section", false)
			if err != nil {
				return nil, err
			}
			return exploreDocs(section)
		},
	})

	reg.Register(&Tool{
		Name:        "soe_get_available_tools",
		Description: "List the tools available in this execution",
		Function: func(_ context.Context, _ any) (any, error) {
			return map[string]any{"tools": reg.Names()}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_call_tool",
		Description: "Invoke any registered tool by name with a JSON argument object",
		Parameters: objectSchema(map[string]any{
			"tool_name": stringProp("Name of the tool to invoke"),
			"arguments": stringProp("JSON object of arguments, defaults to {}"),
		}, "tool_name"),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			toolName, err := stringArg(m, "tool_name", true)
			if err != nil {
				return nil, err
			}
			argsJSON, err := stringArg(m, "arguments", false)
			if err != nil {
				return nil, err
			}
			if argsJSON == "" {
				argsJSON = "{}"
			}

			var callArgs map[string]any
			if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
				return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
			}

			tool, err := reg.Resolve(toolName)
			if err != nil {
				return nil, err
			}
			if b.OnToolCall != nil {
				b.OnToolCall()
			}
			return tool.Function(ctx, callArgs)
		},
	})
}

func registerWorkflowBuiltins(reg *Registry, b Binding) {
	loadRegistry := func(ctx context.Context) (models.Registry, error) {
		registry, err := b.Backends.Workflow.GetWorkflowsRegistry(ctx, b.ExecutionID)
		if err != nil {
			return nil, fmt.Errorf("load workflows registry: %w", err)
		}
		return registry, nil
	}
	saveRegistry := func(ctx context.Context, registry models.Registry) error {
		return b.Backends.Workflow.SaveWorkflowsRegistry(ctx, b.ExecutionID, registry)
	}

	reg.Register(&Tool{
		Name:        "soe_get_workflows",
		Description: "Read this execution's workflow registry",
		Function: func(ctx context.Context, _ any) (any, error) {
			registry, err := loadRegistry(ctx)
			if err != nil {
				return nil, err
			}
			out := map[string]any{}
			for name, wf := range registry {
				nodes := map[string]any{}
				for _, n := range wf.Nodes {
					nodes[n.Name] = n
				}
				out[name] = nodes
			}
			return map[string]any{"workflows": out}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_inject_workflow",
		Description: "Add or replace a workflow in this execution's registry",
		Parameters: objectSchema(map[string]any{
			"workflow_name": stringProp("Name of the workflow"),
			"workflow_data": stringProp("YAML or JSON workflow definition (node name to configuration)"),
		}, "workflow_name", "workflow_data"),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			workflowName, err := stringArg(m, "workflow_name", true)
			if err != nil {
				return nil, err
			}
			data, err := stringArg(m, "workflow_data", true)
			if err != nil {
				return nil, err
			}

			wf, err := config.ParseWorkflow(data)
			if err != nil {
				return nil, err
			}
			registry, err := loadRegistry(ctx)
			if err != nil {
				return nil, err
			}
			if err := config.ValidateWorkflow(workflowName, wf, registry); err != nil {
				return nil, err
			}
			registry[workflowName] = wf
			if err := saveRegistry(ctx, registry); err != nil {
				return nil, err
			}
			return map[string]any{"status": "injected", "workflow_name": workflowName, "nodes": len(wf.Nodes)}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_remove_workflow",
		Description: "Remove a workflow from this execution's registry",
		Parameters: objectSchema(map[string]any{
			"workflow_name": stringProp("Name of the workflow to remove"),
		}, "workflow_name"),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			workflowName, err := stringArg(m, "workflow_name", true)
			if err != nil {
				return nil, err
			}
			registry, err := loadRegistry(ctx)
			if err != nil {
				return nil, err
			}
			if _, ok := registry[workflowName]; !ok {
				return nil, fmt.Errorf("workflow %q: %w", workflowName, models.ErrWorkflowNotFound)
			}
			delete(registry, workflowName)
			if err := saveRegistry(ctx, registry); err != nil {
				return nil, err
			}
			return map[string]any{"status": "removed", "workflow_name": workflowName}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_inject_node",
		Description: "Inject a node configuration into an existing workflow",
		Parameters: objectSchema(map[string]any{
			"workflow_name":    stringProp("Name of the workflow to modify"),
			"node_name":        stringProp("Name of the node to inject"),
			"node_config_data": stringProp("YAML or JSON node configuration"),
		}, "workflow_name", "node_name", "node_config_data"),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			workflowName, err := stringArg(m, "workflow_name", true)
			if err != nil {
				return nil, err
			}
			nodeName, err := stringArg(m, "node_name", true)
			if err != nil {
				return nil, err
			}
			data, err := stringArg(m, "node_config_data", true)
			if err != nil {
				return nil, err
			}

			node, err := config.ParseNode(nodeName, data)
			if err != nil {
				return nil, err
			}
			registry, err := loadRegistry(ctx)
			if err != nil {
				return nil, err
			}
			wf, ok := registry[workflowName]
			if !ok {
				return nil, fmt.Errorf("workflow %q: %w", workflowName, models.ErrWorkflowNotFound)
			}
			if err := config.ValidateNode(workflowName, node, registry); err != nil {
				return nil, err
			}
			wf.Put(node)
			if err := saveRegistry(ctx, registry); err != nil {
				return nil, err
			}
			return map[string]any{"status": "injected", "workflow_name": workflowName, "node_name": nodeName}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_remove_node",
		Description: "Remove a node from a workflow",
		Parameters: objectSchema(map[string]any{
			"workflow_name": stringProp("Name of the workflow"),
			"node_name":     stringProp("Name of the node to remove"),
		}, "workflow_name", "node_name"),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			workflowName, err := stringArg(m, "workflow_name", true)
			if err != nil {
				return nil, err
			}
			nodeName, err := stringArg(m, "node_name", true)
			if err != nil {
				return nil, err
			}
			registry, err := loadRegistry(ctx)
			if err != nil {
				return nil, err
			}
			wf, ok := registry[workflowName]
			if !ok {
				return nil, fmt.Errorf("workflow %q: %w", workflowName, models.ErrWorkflowNotFound)
			}
			if !wf.Remove(nodeName) {
				return nil, fmt.Errorf("node %q not found in workflow %q", nodeName, workflowName)
			}
			if err := saveRegistry(ctx, registry); err != nil {
				return nil, err
			}
			return map[string]any{"status": "removed", "workflow_name": workflowName, "node_name": nodeName}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_add_signal",
		Description: "Add or update a signal on a node's event emissions",
		Parameters: objectSchema(map[string]any{
			"workflow_name": stringProp("Name of the workflow"),
			"node_name":     stringProp("Name of the node"),
			"signal_name":   stringProp("Signal to add"),
			"condition":     stringProp("Emission condition template"),
		}, "workflow_name", "node_name", "signal_name"),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			workflowName, err := stringArg(m, "workflow_name", true)
			if err != nil {
				return nil, err
			}
			nodeName, err := stringArg(m, "node_name", true)
			if err != nil {
				return nil, err
			}
			signalName, err := stringArg(m, "signal_name", true)
			if err != nil {
				return nil, err
			}
			condition, err := stringArg(m, "condition", false)
			if err != nil {
				return nil, err
			}

			registry, err := loadRegistry(ctx)
			if err != nil {
				return nil, err
			}
			wf, ok := registry[workflowName]
			if !ok {
				return nil, fmt.Errorf("workflow %q: %w", workflowName, models.ErrWorkflowNotFound)
			}
			node := wf.Node(nodeName)
			if node == nil {
				return nil, fmt.Errorf("node %q not found in workflow %q", nodeName, workflowName)
			}

			status := "added"
			updated := false
			for i, e := range node.EventEmissions {
				if e.SignalName == signalName {
					node.EventEmissions[i].Condition = condition
					status = "updated"
					updated = true
					break
				}
			}
			if !updated {
				node.EventEmissions = append(node.EventEmissions, models.Emission{SignalName: signalName, Condition: condition})
			}
			if err := saveRegistry(ctx, registry); err != nil {
				return nil, err
			}
			return map[string]any{"status": status, "node_name": nodeName, "signal_name": signalName}, nil
		},
	})
}
