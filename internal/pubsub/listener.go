package pubsub

import "context"

// Listener keeps a single subscription open and hands out events one at a time.
type Listener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewListener subscribes to the broker for the lifetime of ctx.
func NewListener[T any](ctx context.Context, broker *Broker[T]) *Listener[T] {
	return &Listener[T]{
		ctx: ctx,
		ch:  broker.Subscribe(ctx),
	}
}

// Next blocks until an event arrives. It returns false once the context is
// cancelled or the subscription channel is closed.
func (l *Listener[T]) Next() (Event[T], bool) {
	select {
	case <-l.ctx.Done():
		return Event[T]{}, false
	case event, ok := <-l.ch:
		return event, ok
	}
}

// Filter returns a channel of payloads whose event type matches one of types.
// The channel is closed when the listener ends.
func (l *Listener[T]) Filter(types ...EventType) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			event, ok := l.Next()
			if !ok {
				return
			}
			for _, typ := range types {
				if event.Type != typ {
					continue
				}
				select {
				case out <- event.Payload:
				case <-l.ctx.Done():
					return
				}
				break
			}
		}
	}()
	return out
}
