package hub

import (
	"testing"
	"time"
)

func drain(s *Subscriber) []Envelope {
	var out []Envelope
	for {
		select {
		case ev, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	h := New()
	a := NewSubscriber(8)
	b := NewSubscriber(8)
	h.Subscribe(a, OrderChannel("o1"))
	h.Subscribe(b, OrderChannel("o1"))

	h.Publish(OrderChannel("o1"), Envelope{Event: "status_changed"})

	for _, s := range []*Subscriber{a, b} {
		got := drain(s)
		if len(got) != 1 {
			t.Fatalf("expected 1 message, got %d", len(got))
		}
		if got[0].Channel != "order:o1" || got[0].Event != "status_changed" {
			t.Fatalf("unexpected envelope: %+v", got[0])
		}
	}
}

func TestAtMostOncePerPublish(t *testing.T) {
	h := New()
	s := NewSubscriber(8)
	// duplicate subscribe to the same channel must not double-deliver
	h.Subscribe(s, UserChannel("u1"))
	h.Subscribe(s, UserChannel("u1"))
	h.Publish(UserChannel("u1"), Envelope{Event: "e"})
	if got := drain(s); len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	h := New()
	s := NewSubscriber(8)
	h.Subscribe(s, OrderChannel("o1"))
	h.Publish(OrderChannel("o2"), Envelope{Event: "e"})
	if got := drain(s); len(got) != 0 {
		t.Fatalf("received message from foreign channel: %v", got)
	}
}

func TestOrderingPerChannel(t *testing.T) {
	h := New()
	s := NewSubscriber(64)
	h.Subscribe(s, OrderChannel("o1"))
	for i := 0; i < 20; i++ {
		h.Publish(OrderChannel("o1"), Envelope{Event: "e", Data: i})
	}
	got := drain(s)
	if len(got) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Data.(int) != i {
			t.Fatalf("out of order at %d: %v", i, ev.Data)
		}
	}
}

func TestPublishNeverBlocksOnFullBuffer(t *testing.T) {
	h := New()
	s := NewSubscriber(1)
	h.Subscribe(s, OrderChannel("o1"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(OrderChannel("o1"), Envelope{Event: "e", Data: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	// first message is retained, the rest were dropped
	got := drain(s)
	if len(got) != 1 || got[0].Data.(int) != 0 {
		t.Fatalf("expected only the first message, got %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New()
	s := NewSubscriber(8)
	h.Subscribe(s, OrderChannel("o1"))
	h.Unsubscribe(s, OrderChannel("o1"))
	h.Publish(OrderChannel("o1"), Envelope{Event: "e"})
	if got := drain(s); len(got) != 0 {
		t.Fatalf("received after unsubscribe: %v", got)
	}
}

func TestDropClosesFeedAndRemovesEverywhere(t *testing.T) {
	h := New()
	s := NewSubscriber(8)
	h.Subscribe(s, OrderChannel("o1"))
	h.Subscribe(s, UserChannel("u1"))
	h.Drop(s)

	h.Publish(OrderChannel("o1"), Envelope{Event: "e"})
	h.Publish(UserChannel("u1"), Envelope{Event: "e"})

	if _, ok := <-s.C(); ok {
		t.Fatal("feed not closed after drop")
	}
	// subscribing after drop is a no-op
	h.Subscribe(s, OrderChannel("o1"))
	h.Publish(OrderChannel("o1"), Envelope{Event: "e"})
}
