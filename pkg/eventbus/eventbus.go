// Package eventbus carries signal-broadcast requests between the engine and
// embedders. The in-process gochannel bus is the default transport; kafka is
// provided for resuming executions from another process. How signals move
// between workers is otherwise the embedder's concern.
package eventbus

import (
	"context"
)

// Topic carries every signal-broadcast message.
const Topic = "soe.signals"

// SignalsBroadcast asks the engine to resume an execution with signals.
type SignalsBroadcast struct {
	ID          string   `json:"id"`
	ExecutionID string   `json:"execution_id"`
	Signals     []string `json:"signals"`
}

// Handler consumes one broadcast request.
type Handler func(ctx context.Context, executionID string, signals []string) error

// Broadcaster publishes and subscribes to signal-broadcast requests.
type Broadcaster interface {
	PublishSignals(ctx context.Context, executionID string, signals []string) error
	// Handle registers the consumer invoked per broadcast. Must be called
	// before Subscribe.
	Handle(handler Handler)
	// Subscribe starts consuming until ctx is cancelled.
	Subscribe(ctx context.Context) error
	Close() error
}
