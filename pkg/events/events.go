// Package events defines the telemetry event taxonomy emitted by the engine.
package events

// Type names one kind of engine event.
type Type string

const (
	OrchestrationStart     Type = "orchestration_start"
	ConfigInheritanceStart Type = "config_inheritance_start"
	SignalsBroadcast       Type = "signals_broadcast"
	SignalsToParent        Type = "signals_to_parent"
	NodeExecution          Type = "node_execution"
	NodeError              Type = "node_error"
	LLMCall                Type = "llm_call"
	ToolCall               Type = "tool_call"
	AgentToolCall          Type = "agent_tool_call"
	AgentToolNotFound      Type = "agent_tool_not_found"
	ContextWarning         Type = "context_warning"
	ChildSpawn             Type = "child_spawn"
	ContextSyncToParent    Type = "context_sync_to_parent"
)
