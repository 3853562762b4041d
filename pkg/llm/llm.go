// Package llm owns the model-caller contract and the structured-output
// machinery around it: the engine builds a response contract, the caller
// returns raw text, and the resolver parses, validates, and retries with
// repair instructions until the text satisfies the contract.
package llm

import (
	"context"

	"github.com/soehq/soe/pkg/models"
)

// CallFunc is the single function the engine needs from a model provider:
// rendered prompt plus node configuration in, raw response text out.
// Structured-output parsing happens in the engine, not the caller.
type CallFunc func(ctx context.Context, prompt string, node *models.NodeConfig) (string, error)
