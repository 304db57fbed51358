package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hubrts/youtube-command-deck/internal/logger"
)

// Event is the envelope fanned out to every subscriber. Type is one of the
// job lifecycle names; the optional fields are filled per type.
type Event struct {
	Type                string `json:"type"`
	Job                 any    `json:"job,omitempty"`
	Runtime             any    `json:"runtime,omitempty"`
	ActiveJobs          any    `json:"active_jobs,omitempty"`
	ActiveComponentJobs any    `json:"active_component_jobs,omitempty"`
}

const (
	EventHello               = "hello"
	EventJuiceJobCreated     = "juice_job_created"
	EventJuiceJobUpdate      = "juice_job_update"
	EventComponentJobCreated = "component_job_created"
	EventComponentJobUpdate  = "component_job_update"
	EventNotesProgress       = "notes_progress"
)

const subscriberBuffer = 32

// Subscriber is one connected event consumer. Outbound is closed by the hub
// when the subscriber is removed, including eviction for slowness.
type Subscriber struct {
	ID       uuid.UUID
	Outbound chan Event
}

// Hub is the in-process fan-out point. Publish never blocks: a subscriber
// whose buffer is full is evicted rather than slowing the publisher.
type Hub struct {
	mu          sync.Mutex
	log         *logger.Logger
	subscribers map[*Subscriber]bool
}

func NewHub(baseLog *logger.Logger) *Hub {
	return &Hub{
		log:         baseLog.With("component", "EventHub"),
		subscribers: make(map[*Subscriber]bool),
	}
}

func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:       uuid.New(),
		Outbound: make(chan Event, subscriberBuffer),
	}
	h.mu.Lock()
	h.subscribers[sub] = true
	n := len(h.subscribers)
	h.mu.Unlock()
	h.log.Debug("Subscriber joined", "subscriber_id", sub.ID, "total", n)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if h.subscribers[sub] {
		delete(h.subscribers, sub)
		close(sub.Outbound)
	}
	h.mu.Unlock()
}

// Publish delivers to every subscriber without blocking. Events to one
// subscriber arrive in publish order; a subscriber that cannot keep up is
// dropped and its channel closed.
func (h *Hub) Publish(evt Event) {
	var evicted []*Subscriber
	h.mu.Lock()
	for sub := range h.subscribers {
		select {
		case sub.Outbound <- evt:
		default:
			delete(h.subscribers, sub)
			close(sub.Outbound)
			evicted = append(evicted, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range evicted {
		h.log.Warn("Evicted slow subscriber", "subscriber_id", sub.ID)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
