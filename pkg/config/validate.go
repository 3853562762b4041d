package config

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/soehq/soe/pkg/models"
)

var validate = validator.New()

// Validate checks a parsed configuration document: every workflow, every
// node, plus the context_schema and identities sections.
func Validate(cfg *models.Config) error {
	if len(cfg.Workflows) == 0 {
		return models.NewValidationError("", "", "'workflows' section must contain at least one workflow")
	}

	for workflowName, workflow := range cfg.Workflows {
		if err := ValidateWorkflow(workflowName, workflow, cfg.Workflows); err != nil {
			return err
		}
	}

	for fieldName, entry := range cfg.ContextSchema {
		if entry == nil {
			return models.NewValidationError("", "", "context_schema.%s: schema entry must not be empty", fieldName)
		}
		if err := validate.Struct(entry); err != nil {
			return models.NewValidationError("", "", "context_schema.%s: %v", fieldName, err)
		}
	}

	for identityName, prompt := range cfg.Identities {
		if strings.TrimSpace(prompt) == "" {
			return models.NewValidationError("", "", "identities.%s: system prompt must not be empty", identityName)
		}
	}

	return nil
}

// ValidateWorkflow checks one workflow's nodes. registry supplies the
// child-workflow reference scope and may be nil for standalone checks.
func ValidateWorkflow(workflowName string, workflow *models.Workflow, registry models.Registry) error {
	if workflow == nil || len(workflow.Nodes) == 0 {
		return models.NewValidationError(workflowName, "", "workflow is empty, at least one node is required")
	}
	for _, node := range workflow.Nodes {
		if err := ValidateNode(workflowName, node, registry); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNode checks one node configuration against its type's field
// subset and the error cases of the configuration contract.
func ValidateNode(workflowName string, node *models.NodeConfig, registry models.Registry) error {
	fail := func(format string, args ...any) error {
		return models.NewValidationError(workflowName, node.Name, format, args...)
	}

	if strings.HasPrefix(node.Name, "__") {
		return fail("node names starting with '__' are reserved for internal use")
	}

	// Underscore-prefixed types are annotations skipped by the dispatcher.
	if strings.HasPrefix(string(node.Type), "_") {
		return nil
	}

	if err := validate.Struct(node); err != nil {
		return fail("%v", err)
	}

	for _, e := range node.EventEmissions {
		if e.SignalName == "" {
			return fail("event emission is missing signal_name")
		}
	}

	switch node.Type {
	case models.NodeTypeRouter:
		// Routers never consult a model, so a plain-text condition has no
		// meaning; reject it rather than guessing.
		for _, e := range node.EventEmissions {
			if e.Condition != "" && !models.IsTemplateCondition(e.Condition) {
				return fail("emission %q: router conditions must be templates, got plain text", e.SignalName)
			}
		}
		if node.Prompt != "" || node.ToolName != "" || node.ChildWorkflowName != "" || node.OutputField != "" {
			return fail("router nodes accept only event_triggers and event_emissions")
		}

	case models.NodeTypeTool:
		if node.ToolName == "" {
			return fail("'tool_name' is required for tool nodes")
		}
		if node.Parameters != nil && node.ContextParameterField != "" {
			return fail("'parameters' and 'context_parameter_field' are mutually exclusive")
		}
		for _, e := range node.EventEmissions {
			if e.Condition != "" && !models.IsTemplateCondition(e.Condition) {
				return fail("emission %q: tool conditions must be templates, got plain text", e.SignalName)
			}
		}

	case models.NodeTypeLLM:
		if node.Prompt == "" {
			return fail("'prompt' is required for llm nodes")
		}
		if len(node.Tools) > 0 || len(node.AvailableTools) > 0 {
			return fail("llm nodes do not take tools, use an agent node")
		}

	case models.NodeTypeAgent:
		if node.Prompt == "" {
			return fail("'prompt' is required for agent nodes")
		}

	case models.NodeTypeChild:
		if node.ChildWorkflowName == "" {
			return fail("'child_workflow_name' is required for child nodes")
		}
		if len(node.ChildInitialSignals) == 0 {
			return fail("'child_initial_signals' is required for child nodes")
		}
		if registry != nil {
			if _, ok := registry[node.ChildWorkflowName]; !ok {
				return fail("child workflow %q is not defined in the registry", node.ChildWorkflowName)
			}
		}
		if node.FanOutField != "" && node.ChildInputField == "" {
			return fail("'child_input_field' is required when 'fan_out_field' is set")
		}

	default:
		valid := make([]string, 0, len(models.ValidNodeTypes()))
		for _, t := range models.ValidNodeTypes() {
			valid = append(valid, string(t))
		}
		return fail("unknown node_type %q, valid types are: %s", node.Type, strings.Join(valid, ", "))
	}

	return nil
}
