// Package openai adapts the OpenAI Chat Completions API to the engine's
// model-caller contract.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/soehq/soe/pkg/models"
)

// Options configures the OpenAI caller.
type Options struct {
	Model               string
	MaxCompletionTokens int64
}

// Caller wraps the OpenAI Chat Completions API behind llm.CallFunc.
type Caller struct {
	client *openai.Client
	opts   Options
}

// NewCaller creates a caller using the official client, which reads
// OPENAI_API_KEY from the environment.
func NewCaller(optFns ...func(o *Options)) *Caller {
	client := openai.NewClient()
	return NewCallerFromClient(&client, optFns...)
}

// NewCallerFromClient creates a caller from an existing client.
func NewCallerFromClient(client *openai.Client, optFns ...func(o *Options)) *Caller {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Caller{client: client, opts: opts}
}

// Call implements llm.CallFunc. A node-level model override takes
// precedence over the configured default.
func (c *Caller) Call(ctx context.Context, prompt string, node *models.NodeConfig) (string, error) {
	model := c.opts.Model
	if node != nil && node.Model != "" {
		model = node.Model
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion request: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
