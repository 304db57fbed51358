package realtime

import (
	"testing"

	"github.com/hubrts/youtube-command-deck/internal/logger"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewHub(log)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := newTestHub(t)
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish(Event{Type: EventJuiceJobCreated})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case evt := <-sub.Outbound:
			if evt.Type != EventJuiceJobCreated {
				t.Fatalf("event type: want=%s got=%s", EventJuiceJobCreated, evt.Type)
			}
		default:
			t.Fatalf("subscriber %s missed event", sub.ID)
		}
	}
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	h := newTestHub(t)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	types := []string{EventJuiceJobCreated, EventJuiceJobUpdate, EventJuiceJobUpdate, EventComponentJobUpdate}
	for _, typ := range types {
		h.Publish(Event{Type: typ})
	}
	for i, want := range types {
		evt := <-sub.Outbound
		if evt.Type != want {
			t.Fatalf("event %d: want=%s got=%s", i, want, evt.Type)
		}
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	h := newTestHub(t)
	slow := h.Subscribe()
	fast := h.Subscribe()
	defer h.Unsubscribe(fast)

	// Overflow the slow subscriber's buffer without draining it.
	for i := 0; i < subscriberBuffer+1; i++ {
		h.Publish(Event{Type: EventJuiceJobUpdate})
		// Keep the fast one drained so it survives.
		select {
		case <-fast.Outbound:
		default:
		}
	}

	if h.SubscriberCount() != 1 {
		t.Fatalf("subscriber count after eviction: want=1 got=%d", h.SubscriberCount())
	}

	// The evicted channel must be closed after draining buffered events.
	drained := 0
	for range slow.Outbound {
		drained++
	}
	if drained != subscriberBuffer {
		t.Fatalf("buffered events before close: want=%d got=%d", subscriberBuffer, drained)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := newTestHub(t)
	sub := h.Subscribe()
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)
	if h.SubscriberCount() != 0 {
		t.Fatalf("subscriber count: want=0 got=%d", h.SubscriberCount())
	}
}
