// Package hub is an in-process topic fan-out. Subscribers register and unregister
// explicitly; publishing never blocks on a slow subscriber.
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// TopicConsumption carries changes to consumption rows
const TopicConsumption = "consumo"

// MessageTypeConsumptionUpdate is the type field of consumption change messages
const MessageTypeConsumptionUpdate = "consumo_update"

// Event is one change notification. Record is the changed row as JSON.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"-"`
	Type      string          `json:"type"`
	Operation string          `json:"operation"`
	Record    json.RawMessage `json:"record"`
	At        time.Time       `json:"at"`
}

// Hub routes events to the subscribers of their topic
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Subscription]struct{}
	closed  bool
	dropped atomic.Uint64
	logger  *zap.Logger
}

// New creates an empty hub
func New(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger.Named("hub"),
	}
}

// Subscription is one subscriber's view of a topic
type Subscription struct {
	hub    *Hub
	topic  string
	events chan Event
	once   sync.Once
}

// Subscribe registers a subscriber with the given buffer size. On a closed hub the
// returned subscription's channel is already closed.
func (h *Hub) Subscribe(topic string, buffer int) *Subscription {
	sub := &Subscription{hub: h, topic: topic, events: make(chan Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.once.Do(func() { close(sub.events) })
		return sub
	}

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}

	h.logger.Debug("subscriber added", zap.String("topic", topic), zap.Int("subscribers", len(subs)))
	return sub
}

// Events returns the delivery channel. It is closed on Unsubscribe or hub Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if subs, ok := s.hub.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.topics, s.topic)
		}
	}
	s.once.Do(func() { close(s.events) })
}

// Publish delivers e to every subscriber of e.Topic and returns how many received it.
// Subscribers with a full buffer miss the event.
func (h *Hub) Publish(e Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.topics[e.Topic] {
		select {
		case sub.events <- e:
			delivered++
		default:
			h.dropped.Add(1)
			h.logger.Warn("subscriber buffer full, event dropped",
				zap.String("topic", e.Topic),
				zap.String("event_id", e.ID),
			)
		}
	}
	return delivered
}

// SubscriberCount returns the number of subscribers on topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Dropped returns how many deliveries were skipped because of full buffers
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	count := 0
	for topic, subs := range h.topics {
		for sub := range subs {
			sub.once.Do(func() { close(sub.events) })
			count++
		}
		delete(h.topics, topic)
	}
	h.logger.Info("hub closed", zap.Int("subscribers_closed", count))
}
