package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/pubsub"
)

const (
	// DefaultRedisChannel is the channel events are published on.
	DefaultRedisChannel = "chunkrun:events"

	redisQueueSize      = 256
	redisPublishTimeout = 2 * time.Second
)

// redisPublisher is the subset of *redis.Client the sink needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// wireEvent is the JSON document published to Redis.
type wireEvent struct {
	Type      pubsub.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Message
}

// RedisSink republishes notifications on a Redis pub/sub channel.
// Publishing happens on a background worker; when the queue is full the event
// is dropped and logged. Errors never reach the caller.
type RedisSink struct {
	client  redisPublisher
	channel string
	queue   chan wireEvent
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRedisSink connects lazily to addr and publishes on channel.
func NewRedisSink(addr, channel string) *RedisSink {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return newRedisSink(client, channel)
}

func newRedisSink(client redisPublisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	s := &RedisSink{
		client:  client,
		channel: channel,
		queue:   make(chan wireEvent, redisQueueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Deliver enqueues the event for publishing. Events delivered after Close are
// discarded.
func (s *RedisSink) Deliver(_ context.Context, eventType pubsub.EventType, msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	ev := wireEvent{Type: eventType, Timestamp: time.Now(), Message: msg}
	select {
	case s.queue <- ev:
	default:
		log.Warn(log.CatNotify, "Redis queue full, dropping event", "type", eventType, "channel", s.channel)
	}
}

func (s *RedisSink) run() {
	defer s.wg.Done()
	for ev := range s.queue {
		s.publish(ev)
	}
}

func (s *RedisSink) publish(ev wireEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.ErrorErr(log.CatNotify, "Failed to encode event", err, "type", ev.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, string(payload)).Err(); err != nil {
		log.ErrorErr(log.CatNotify, "Failed to publish to redis", err, "channel", s.channel, "type", ev.Type)
	}
}

// Close drains queued events and closes the client.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.client.Close()
}
