package notifications

import (
	"sync"
	"time"
)

// Update is one progress datum fanned out to live subscribers.
type Update struct {
	Event     Event     `json:"event"`
	JobToken  string    `json:"job_token"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 32

// Hub fans job updates out to in-process subscribers (the websocket stream).
// Publishing never blocks: a subscriber that falls behind loses updates
// rather than stalling the pipeline.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Update
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Update)}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away; it closes the channel.
func (h *Hub) Subscribe() (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Update, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the update to every subscriber with room in its buffer.
func (h *Hub) Publish(update Update) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// Subscribers reports the live listener count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
