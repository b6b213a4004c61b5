// Package broadcast carries session messages between every running
// instance of the client that shares a user session: in-process through a
// Hub, across processes through the server's websocket relay.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
)

const (
	TopicActivity = "activity"
	TopicLogout   = "logout"
)

// Message is the envelope exchanged on the wire.
type Message struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives a payload published on a subscribed topic.
type Handler func(payload []byte)

// Bus publishes and delivers topic messages. Publishers also receive their
// own messages; receivers filter by sender where it matters.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers h and returns a function that removes it.
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// Hub is an in-process Bus.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]Handler)}
}

// Publish delivers payload to every subscriber of topic synchronously.
func (h *Hub) Publish(_ context.Context, topic string, payload []byte) error {
	h.deliver(topic, payload)
	return nil
}

func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[topic]))
	for _, fn := range h.subs[topic] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(payload)
	}
}

func (h *Hub) Subscribe(topic string, fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]Handler)
	}
	h.subs[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[topic], id)
		})
	}
}
