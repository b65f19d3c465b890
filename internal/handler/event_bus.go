// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"usis-service/internal/model"
)

// AllEvents subscribes to every event type
const AllEvents model.EventType = ""

// EventBus manages event distribution
type EventBus struct {
	subscribers map[model.EventType][]chan *model.Event
	events      chan *model.Event
	closed      bool
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[model.EventType][]chan *model.Event),
		events:      make(chan *model.Event, 1000),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until Stop is called. Subscriber channels are
// closed on return.
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	for eventType, subscribers := range eb.subscribers {
		for _, subscriber := range subscribers {
			close(subscriber)
		}
		delete(eb.subscribers, eventType)
	}
}

// Stop stops accepting events. Events already queued are still delivered.
func (eb *EventBus) Stop() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.events)
}

// Publish publishes an event
func (eb *EventBus) Publish(event *model.Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	if eb.closed {
		return
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
		)
	}
}

// Subscribe subscribes to events of a specific type, or to every event with AllEvents
func (eb *EventBus) Subscribe(eventType model.EventType) <-chan *model.Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan *model.Event, 100)
	if eb.closed {
		close(subscriber)
		return subscriber
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// Unsubscribe removes and closes a subscription
func (eb *EventBus) Unsubscribe(sub <-chan *model.Event) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for eventType, subscribers := range eb.subscribers {
		for i, subscriber := range subscribers {
			if subscriber == sub {
				eb.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
				close(subscriber)
				return
			}
		}
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event *model.Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, eventType := range []model.EventType{event.EventType, AllEvents} {
		for _, subscriber := range eb.subscribers[eventType] {
			select {
			case subscriber <- event:
			default:
				// Subscriber is slow, skip
			}
		}
	}
}
