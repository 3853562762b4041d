package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoChannelBusRoundTrip(t *testing.T) {
	bus := NewGoChannelBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type received struct {
		executionID string
		signals     []string
	}
	got := make(chan received, 1)

	bus.Handle(func(_ context.Context, executionID string, signals []string) error {
		got <- received{executionID: executionID, signals: signals}
		return nil
	})
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.PublishSignals(ctx, "e1", []string{"START", "GO"}))

	select {
	case r := <-got:
		assert.Equal(t, "e1", r.executionID)
		assert.Equal(t, []string{"START", "GO"}, r.signals)
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast was not delivered")
	}
}

func TestGoChannelBusDropsBroadcastsWithoutHandler(t *testing.T) {
	bus := NewGoChannelBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No handler registered: messages are acked and dropped.
	require.NoError(t, bus.Subscribe(ctx))
	require.NoError(t, bus.PublishSignals(ctx, "e1", []string{"X"}))
	time.Sleep(50 * time.Millisecond)
}
