package memory

import (
	"context"
	"sync"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"go.uber.org/zap"
)

type subscription struct {
	handler ports.EventHandler
}

// InMemoryEventBus implements EventBus with in-process handlers.
// Handlers run synchronously in publish order.
type InMemoryEventBus struct {
	logger      *zap.Logger
	subscribers map[string][]*subscription
	mu          sync.RWMutex
	closed      bool
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		logger:      logger,
		subscribers: make(map[string][]*subscription),
	}
}

// Publish delivers an event to every subscriber of a topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	subs := make([]*subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			e.logger.Warn("event handler failed",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers handler on a topic until ctx ends
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	s := &subscription{handler: handler}

	e.mu.Lock()
	e.subscribers[topic] = append(e.subscribers[topic], s)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, s)
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers, topic)
	return nil
}

// Close drops every subscription
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string][]*subscription)
	e.closed = true
	return nil
}

// unsubscribe removes a single subscription from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, s *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, existing := range subs {
		if existing == s {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}

// SubscriberCount returns the number of handlers on a topic
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}
