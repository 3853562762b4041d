// Package anthropic adapts the Anthropic Messages API to the engine's
// model-caller contract.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/soehq/soe/pkg/models"
)

// Options configures the Anthropic caller (model id, max tokens, API key).
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Caller wraps the Anthropic Messages API behind llm.CallFunc.
type Caller struct {
	client *anthropic.Client
	opts   Options
}

// NewCaller creates a caller using the official client. The API key falls
// back to the SDK's environment lookup when unset.
func NewCaller(optFns ...func(o *Options)) *Caller {
	opts := Options{
		Model:     anthropic.ModelClaudeSonnet4_20250514,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Caller{client: &client, opts: opts}
}

// Call implements llm.CallFunc. A node-level model override takes
// precedence over the configured default.
func (c *Caller) Call(ctx context.Context, prompt string, node *models.NodeConfig) (string, error) {
	model := c.opts.Model
	if node != nil && node.Model != "" {
		model = anthropic.Model(node.Model)
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: c.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message request: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
