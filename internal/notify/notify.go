// Package notify announces chunk output and completion to interested parties.
//
// Delivery is fire-and-forget: the in-process broker never blocks publishers
// and sinks queue their own work.
package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/pubsub"
)

// ChunkOutput announces that output of Kind was written to Path.
type ChunkOutput struct {
	ID        string           `json:"id"`
	DocID     string           `json:"doc_id"`
	ChunkID   string           `json:"chunk_id"`
	ContextID string           `json:"context_id"`
	Kind      paths.OutputKind `json:"kind"`
	Path      string           `json:"path"`
}

// ChunkCompleted announces that a chunk's process exited.
type ChunkCompleted struct {
	ID         string `json:"id"`
	DocID      string `json:"doc_id"`
	ChunkID    string `json:"chunk_id"`
	ContextID  string `json:"context_id"`
	ExitStatus int    `json:"exit_status"`
	Terminated bool   `json:"terminated"`
}

// Message is the broker payload. Exactly one field is set, matching the
// event type it was published under.
type Message struct {
	Output    *ChunkOutput    `json:"output,omitempty"`
	Completed *ChunkCompleted `json:"completed,omitempty"`
}

// About reports whether the message concerns the given chunk.
func (m Message) About(docID, chunkID string) bool {
	switch {
	case m.Output != nil:
		return m.Output.DocID == docID && m.Output.ChunkID == chunkID
	case m.Completed != nil:
		return m.Completed.DocID == docID && m.Completed.ChunkID == chunkID
	default:
		return false
	}
}

// Sink receives every notification after it was published in-process.
type Sink interface {
	Deliver(ctx context.Context, eventType pubsub.EventType, msg Message)
	Close() error
}

// Notifier publishes chunk notifications.
type Notifier struct {
	broker *pubsub.Broker[Message]
	sinks  []Sink
	newID  func() string
}

// New returns a Notifier with its own broker and the given extra sinks.
func New(sinks ...Sink) *Notifier {
	return &Notifier{
		broker: pubsub.NewBroker[Message](),
		sinks:  sinks,
		newID:  uuid.NewString,
	}
}

// Subscribe returns a channel of notifications for the lifetime of ctx.
func (n *Notifier) Subscribe(ctx context.Context) <-chan pubsub.Event[Message] {
	return n.broker.Subscribe(ctx)
}

// SubscribeChunk is Subscribe limited to notifications about one chunk.
func (n *Notifier) SubscribeChunk(ctx context.Context, docID, chunkID string) <-chan pubsub.Event[Message] {
	return n.broker.SubscribeFunc(ctx, func(ev pubsub.Event[Message]) bool {
		return ev.Payload.About(docID, chunkID)
	})
}

// Listen returns a listener over the notification stream.
func (n *Notifier) Listen(ctx context.Context) *pubsub.Listener[Message] {
	return pubsub.NewListener(ctx, n.broker)
}

// ChunkOutput publishes an output announcement and returns it with its ID set.
func (n *Notifier) ChunkOutput(ctx context.Context, ev ChunkOutput) ChunkOutput {
	if ev.ID == "" {
		ev.ID = n.newID()
	}
	n.publish(ctx, pubsub.OutputEvent, Message{Output: &ev})
	return ev
}

// ChunkCompleted publishes a completion announcement and returns it with its
// ID set.
func (n *Notifier) ChunkCompleted(ctx context.Context, ev ChunkCompleted) ChunkCompleted {
	if ev.ID == "" {
		ev.ID = n.newID()
	}
	n.publish(ctx, pubsub.CompletedEvent, Message{Completed: &ev})
	return ev
}

func (n *Notifier) publish(ctx context.Context, eventType pubsub.EventType, msg Message) {
	delivered := n.broker.Publish(eventType, msg)
	log.Debug(log.CatNotify, "Published notification", "type", eventType, "subscribers", delivered)
	for _, s := range n.sinks {
		s.Deliver(ctx, eventType, msg)
	}
}

// Close shuts down the broker and every sink.
func (n *Notifier) Close() error {
	n.broker.Close()
	var firstErr error
	for _, s := range n.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
