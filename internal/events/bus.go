// Package events is the in-process bus the controller publishes lifecycle
// events on; the websocket layer subscribes and forwards them to clients.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType labels what happened inside a session
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionDeleted EventType = "session_deleted"
	EventClockAdvanced  EventType = "clock_advanced"
	EventOrderAccepted  EventType = "order_accepted"
	EventOrderRejected  EventType = "order_rejected"
	EventOrderFilled    EventType = "order_filled"
	EventOrderPartial   EventType = "order_partially_filled"
	EventOrderCanceled  EventType = "order_canceled"
	EventOrderExpired   EventType = "order_expired"
)

// Event is one session-scoped occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	SessionID uuid.UUID              `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Subscriber handles events. Subscribers must not block.
type Subscriber func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	byType  map[EventType][]Subscriber
	allSubs []Subscriber
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{byType: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(t EventType, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[t] = append(b.byType[t], s)
}

// SubscribeAll registers a subscriber for every event.
func (b *Bus) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, s)
}

// Publish delivers the event to matching subscribers synchronously.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	typed := b.byType[e.Type]
	all := b.allSubs
	b.mu.RUnlock()

	for _, s := range typed {
		s(e)
	}
	for _, s := range all {
		s(e)
	}
}
