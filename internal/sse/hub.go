package sse

import (
	"encoding/json"
	"fmt"
	"sync"
)

// TopicInvoices carries changes to the stored invoice collection.
const TopicInvoices = "invoices"

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(topic string) (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[chan []byte]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[topic]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, topic)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports how many listeners a topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Broadcast delivers payload to every subscriber of the given topics. Slow
// subscribers with a full buffer miss the event.
func (h *Hub) Broadcast(topics []string, payload []byte) {
	if h == nil || len(topics) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		unique[topic] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for topic := range unique {
		for ch := range h.subs[topic] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Publish formats data as a named event and broadcasts it on topic.
func (h *Hub) Publish(topic, event string, data any) {
	if h == nil {
		return
	}
	h.Broadcast([]string{topic}, Format(event, data))
}

// Format renders one text/event-stream frame.
func Format(event string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload))
}
