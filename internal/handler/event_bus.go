// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"modem-service/internal/model"
)

const allEvents = "*"

// EventBus fans modem events out to subscribers. Publish never blocks: when
// the queue or a subscriber is full the event is dropped for it.
type EventBus struct {
	subscribers map[string][]chan model.ModemEvent
	events      chan model.ModemEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
	done        chan struct{}
	stopOnce    sync.Once
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan model.ModemEvent),
		events:      make(chan model.ModemEvent, 1000),
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start distributes events until Stop is called
func (eb *EventBus) Start() {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-eb.done:
			return
		}
	}
}

// Stop ends the distribution loop and closes every subscriber channel
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.done)

		eb.mutex.Lock()
		defer eb.mutex.Unlock()
		for key, subs := range eb.subscribers {
			for _, sub := range subs {
				close(sub)
			}
			delete(eb.subscribers, key)
		}
	})
}

// Publish queues an event for distribution
func (eb *EventBus) Publish(event model.ModemEvent) {
	select {
	case eb.events <- event:
	default:
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType model.EventType) <-chan model.ModemEvent {
	return eb.subscribe(string(eventType))
}

// SubscribeAll subscribes to every event
func (eb *EventBus) SubscribeAll() <-chan model.ModemEvent {
	return eb.subscribe(allEvents)
}

func (eb *EventBus) subscribe(key string) <-chan model.ModemEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.ModemEvent, 100)
	select {
	case <-eb.done:
		close(subscriber)
		return subscriber
	default:
	}
	eb.subscribers[key] = append(eb.subscribers[key], subscriber)
	return subscriber
}

// Unsubscribe removes and closes a subscription
func (eb *EventBus) Unsubscribe(sub <-chan model.ModemEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for key, subs := range eb.subscribers {
		for i, s := range subs {
			if s == sub {
				eb.subscribers[key] = append(subs[:i], subs[i+1:]...)
				close(s)
				return
			}
		}
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.ModemEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, key := range []string{string(event.EventType), allEvents} {
		for _, subscriber := range eb.subscribers[key] {
			select {
			case subscriber <- event:
			default:
				// Subscriber is slow, skip
			}
		}
	}
}
