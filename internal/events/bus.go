package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event represents a system event with typed data
// The Data field can be either EventData (typed) or map[string]interface{} (legacy)
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`

	// typed is set when the event was emitted through EmitTyped and lets
	// GetTypedData skip the map conversion.
	typed EventData
}

// Handler receives events for a subscribed type.
type Handler func(event *Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events synchronously to subscribers in subscription order.
// A panicking listener is recovered and logged so emitters never fail.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]subscription
	nextID    uint64
	log       zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		listeners: make(map[EventType][]subscription),
		log:       log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type and returns a function
// that removes the subscription.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[eventType] = append(b.listeners[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.listeners[eventType]
		for i, s := range subs {
			if s.id == id {
				b.listeners[eventType] = append(append([]subscription(nil), subs[:i]...), subs[i+1:]...)
				return
			}
		}
	}
}

// Emit constructs an event and dispatches it to subscribers of its type.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	b.EmitEvent(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	})
}

// EmitEvent dispatches an already built event on the caller's goroutine.
// Handlers run sequentially in subscription order.
func (b *Bus) EmitEvent(event *Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.listeners[event.Type]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(sub, event)
	}
}

func (b *Bus) dispatch(sub subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Str("module", event.Module).
				Msg("Event listener panicked")
		}
	}()
	sub.handler(event)
}

// ListenerCount returns the number of subscribers for an event type.
func (b *Bus) ListenerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[eventType])
}

// RemoveAll drops every subscription.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[EventType][]subscription)
}
