package hub

import (
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/observability"
)

// Channel name helpers; topics are rebuilt on reconnect, nothing persists.
func OrderChannel(id string) string   { return "order:" + id }
func UserChannel(id string) string    { return "user:" + id }
func PartnerChannel(id string) string { return "partner:" + id }

// Envelope is the message shape pushed to subscribers.
type Envelope struct {
	Channel   string      `json:"channel"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscriber is one live connection. Messages arrive on C in publication
// order per channel; when the buffer is full further messages are dropped,
// never blocking the publisher.
type Subscriber struct {
	ch chan Envelope

	mu       sync.Mutex
	closed   bool
	channels map[string]struct{}
}

func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	return &Subscriber{ch: make(chan Envelope, buffer), channels: make(map[string]struct{})}
}

func (s *Subscriber) C() <-chan Envelope { return s.ch }

// Hub is the publish/subscribe fan-out for state changes. It is a
// lifecycle-scoped object owned by the process, not an ambient singleton.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscriber]struct{}
}

func New() *Hub {
	return &Hub{channels: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(s *Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.channels[channel] = subs
	}
	if _, dup := subs[s]; !dup {
		subs[s] = struct{}{}
		s.channels[channel] = struct{}{}
		observability.HubSubscribers.Inc()
	}
}

func (h *Hub) Unsubscribe(s *Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(s, channel)
}

func (h *Hub) unsubscribeLocked(s *Subscriber, channel string) {
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	if _, present := subs[s]; !present {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
	observability.HubSubscribers.Dec()
}

// Drop removes the subscriber from every channel and closes its feed.
// Called once when the connection goes away.
func (h *Hub) Drop(s *Subscriber) {
	h.mu.Lock()
	s.mu.Lock()
	channels := make([]string, 0, len(s.channels))
	for c := range s.channels {
		channels = append(channels, c)
	}
	s.mu.Unlock()
	for _, c := range channels {
		h.unsubscribeLocked(s, c)
	}
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	h.mu.Unlock()
	if !alreadyClosed {
		close(s.ch)
	}
}

// Publish delivers ev to every current subscriber of channel, at most once
// each. It never blocks on slow subscribers: a full buffer means the message
// is dropped for that subscriber. Delivery order per channel follows
// publication order for a single publisher.
func (h *Hub) Publish(channel string, ev Envelope) {
	ev.Channel = channel
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.channels[channel] {
		select {
		case s.ch <- ev:
		default:
			observability.HubDroppedTotal.Inc()
		}
	}
}
