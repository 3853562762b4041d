package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/soehq/soe/pkg/backends"
)

// Conversation roles stored in shared history.
const (
	RoleSystem      = "system"
	RoleUser        = "user"
	RoleAssistant   = "assistant"
	RoleTool        = "tool"
	RoleToolError   = "tool_error"
	RoleSystemError = "system_error"
)

// LoadHistory returns the shared conversation history for a node with an
// identity. History is keyed by main_execution_id so it persists across
// sub-orchestration boundaries. When the history is empty and the identity
// resolves against the identity backend, the identity's system prompt is
// stored as the first message. The returned key is empty when the node has
// no identity or no conversation backend is configured.
func LoadHistory(ctx context.Context, b backends.Backends, mainExecutionID, identity string) (string, []backends.Message, error) {
	if identity == "" || b.Conversation == nil {
		return "", nil, nil
	}

	history, err := b.Conversation.GetConversationHistory(ctx, mainExecutionID)
	if err != nil {
		return "", nil, fmt.Errorf("load conversation history: %w", err)
	}

	if len(history) == 0 && b.Identity != nil {
		identities, err := b.Identity.GetIdentities(ctx, mainExecutionID)
		if err != nil {
			return "", nil, fmt.Errorf("load identities: %w", err)
		}
		if systemPrompt := identities[identity]; systemPrompt != "" {
			history = []backends.Message{{Role: RoleSystem, Content: systemPrompt}}
			if err := b.Conversation.SaveConversationHistory(ctx, mainExecutionID, history); err != nil {
				return "", nil, fmt.Errorf("seed conversation history: %w", err)
			}
		}
	}

	return mainExecutionID, history, nil
}

// FormatHistory renders a conversation as prompt text.
func FormatHistory(history []backends.Message) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, len(history))
	for i, msg := range history {
		switch msg.Role {
		case RoleTool:
			lines[i] = fmt.Sprintf("[Tool: %s]: %s", msg.ToolName, msg.Content)
		case RoleToolError:
			lines[i] = fmt.Sprintf("[Tool Error: %s]: %s", msg.ToolName, msg.Content)
		default:
			lines[i] = fmt.Sprintf("[%s]: %s", msg.Role, msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// SaveTurn appends a user/assistant exchange to shared history. A no-op
// when historyKey is empty.
func SaveTurn(ctx context.Context, b backends.Backends, historyKey, userContent, assistantContent string) error {
	if historyKey == "" || b.Conversation == nil {
		return nil
	}
	if err := b.Conversation.AppendToConversationHistory(ctx, historyKey, backends.Message{Role: RoleUser, Content: userContent}); err != nil {
		return err
	}
	return b.Conversation.AppendToConversationHistory(ctx, historyKey, backends.Message{Role: RoleAssistant, Content: assistantContent})
}

// AppendEntry appends a single message to shared history. A no-op when
// historyKey is empty.
func AppendEntry(ctx context.Context, b backends.Backends, historyKey string, msg backends.Message) error {
	if historyKey == "" || b.Conversation == nil {
		return nil
	}
	return b.Conversation.AppendToConversationHistory(ctx, historyKey, msg)
}
