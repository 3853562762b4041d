package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the kernel.
var (
	// ErrReservedField marks writes to __operational__/__parent__ from
	// outside the kernel.
	ErrReservedField = errors.New("reserved context field")

	// ErrExecutionNotFound marks lookups of unknown execution ids.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrWorkflowNotFound marks references to absent workflows.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// ValidationError is a configuration error detected at load time,
// before any dispatch.
type ValidationError struct {
	Workflow string
	Node     string
	Message  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Workflow != "" && e.Node != "":
		return fmt.Sprintf("workflow %q, node %q: %s", e.Workflow, e.Node, e.Message)
	case e.Workflow != "":
		return fmt.Sprintf("workflow %q: %s", e.Workflow, e.Message)
	default:
		return e.Message
	}
}

// NewValidationError builds a ValidationError with formatting.
func NewValidationError(workflow, node, format string, args ...any) *ValidationError {
	return &ValidationError{Workflow: workflow, Node: node, Message: fmt.Sprintf(format, args...)}
}
