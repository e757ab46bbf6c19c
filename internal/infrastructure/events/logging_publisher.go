package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/ports"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// LoggingPublisher emits domain events using the structured logger.
type LoggingPublisher struct {
	logger *logger.Logger
	subs   map[string][]subscriptionEntry
	nextID int
	mu     sync.RWMutex
}

// NewLoggingPublisher creates an event publisher that writes each event as a structured log entry.
func NewLoggingPublisher(log *logger.Logger) *LoggingPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &LoggingPublisher{
		logger: log,
		subs:   make(map[string][]subscriptionEntry),
	}
}

// Publish renders the event as a structured log entry, then runs the
// subscribers of its type followed by wildcard subscribers.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || event == nil {
		return nil
	}

	p.mu.RLock()
	handlers := append([]subscriptionEntry(nil), p.subs[event.EventType()]...)
	handlers = append(handlers, p.subs[AllEvents]...)
	p.mu.RUnlock()

	fields := map[string]any{"event_type": event.EventType()}
	if id := ports.GetCorrelationID(ctx); id != "" {
		fields["correlation_id"] = id
	}
	switch payload := event.Payload().(type) {
	case map[string]interface{}:
		for key, value := range payload {
			fields[key] = value
		}
	case nil:
	default:
		fields["payload"] = payload
	}

	p.logger.WithFields(fields).Debug("domain event")

	for _, entry := range handlers {
		handler := entry.handler
		if handler == nil {
			continue
		}
		if err := p.dispatch(ctx, handler, event); err != nil {
			p.logger.WithFields(map[string]any{"event_type": event.EventType()}).Error(err, "event handler failed")
		}
	}

	return nil
}

func (p *LoggingPublisher) dispatch(ctx context.Context, handler ports.EventHandler, event ports.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Subscribe registers a handler for the provided event type, or for every
// type with AllEvents.
func (p *LoggingPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if p == nil || handler == nil {
		return noopSubscription{}, nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[eventType] = append(p.subs[eventType], subscriptionEntry{id: id, handler: handler})
	p.mu.Unlock()

	return subscription{
		cancel: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			handlers := p.subs[eventType]
			for i, entry := range handlers {
				if entry.id == id {
					p.subs[eventType] = append(handlers[:i], handlers[i+1:]...)
					break
				}
			}
		},
	}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriptionEntry struct {
	id      int
	handler ports.EventHandler
}
