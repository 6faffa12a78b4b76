package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroker_Subscribe(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	delivered := broker.Publish(OutputEvent, "hello")
	require.Equal(t, 1, delivered)

	select {
	case event := <-ch:
		require.Equal(t, "hello", event.Payload)
		require.Equal(t, OutputEvent, event.Type)
		require.False(t, event.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for event")
	}
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)
	ch3 := broker.Subscribe(ctx)

	require.Equal(t, 3, broker.SubscriberCount())

	broker.Publish(CompletedEvent, 42)

	for i, ch := range []<-chan Event[int]{ch1, ch2, ch3} {
		select {
		case event := <-ch:
			require.Equal(t, 42, event.Payload, "subscriber %d", i)
			require.Equal(t, CompletedEvent, event.Type, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			require.Fail(t, "timeout waiting for event", "subscriber %d", i)
		}
	}
}

func TestBroker_ContextCancellation(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())

	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}

// TestBroker_NonBlocking verifies a full subscriber never stalls the publisher
// and that skipped deliveries are counted.
func TestBroker_NonBlocking(t *testing.T) {
	broker := NewBrokerWithBuffer[int](1)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())

	broker.Publish(OutputEvent, 1)

	done := make(chan struct{})
	go func() {
		broker.Publish(OutputEvent, 2)
		broker.Publish(OutputEvent, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "Publish blocked")
	}

	event := <-ch
	require.Equal(t, 1, event.Payload)
	require.Equal(t, uint64(2), broker.Dropped())
}

func TestBroker_Close(t *testing.T) {
	broker := NewBroker[string]()

	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2

	require.False(t, ok1, "ch1 should be closed")
	require.False(t, ok2, "ch2 should be closed")
	require.Equal(t, 0, broker.SubscriberCount())

	ch3 := broker.Subscribe(ctx)
	_, ok3 := <-ch3
	require.False(t, ok3, "ch3 should be closed immediately")

	require.Equal(t, 0, broker.Publish(OutputEvent, "test"))
}

func TestBroker_CloseIdempotent(t *testing.T) {
	broker := NewBroker[string]()

	ch := broker.Subscribe(context.Background())

	broker.Close()
	broker.Close()

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}

func TestBroker_SubscribeFunc(t *testing.T) {
	broker := NewBrokerWithBuffer[string](1)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completed := broker.SubscribeFunc(ctx, func(ev Event[string]) bool {
		return ev.Type == CompletedEvent
	})

	require.Equal(t, 0, broker.Publish(OutputEvent, "chunk text"))
	require.Equal(t, 0, broker.Publish(OutputEvent, "more text"))
	require.Equal(t, 1, broker.Publish(CompletedEvent, "done"))
	require.Zero(t, broker.Dropped(), "filtered events are not drops")

	ev := <-completed
	require.Equal(t, "done", ev.Payload)
}
