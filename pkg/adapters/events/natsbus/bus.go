package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix namespaces every topic on the NATS server
const SubjectPrefix = "agentmesh"

// EventBus implements EventBus over NATS core pub/sub
type EventBus struct {
	conn   *nats.Conn
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string][]*nats.Subscription
}

// Connect dials url and returns a bus owning the connection
func Connect(url string, logger *zap.Logger) (*EventBus, error) {
	conn, err := nats.Connect(url, nats.Name("agentmesh"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewEventBus(conn, logger), nil
}

// NewEventBus wraps an existing connection. Close closes it.
func NewEventBus(conn *nats.Conn, logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		conn:   conn,
		logger: logger,
		subs:   make(map[string][]*nats.Subscription),
	}
}

// Publish sends an event on the topic subject
func (b *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.conn.Publish(Subject(topic), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic))
	return nil
}

// Subscribe delivers events on topic to handler until ctx ends
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	sub, err := b.conn.Subscribe(Subject(topic), func(msg *nats.Msg) {
		var event domain.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error("failed to unmarshal event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		if err := handler(ctx, event); err != nil {
			b.logger.Error("handler error",
				zap.String("subject", msg.Subject),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("failed to flush subscription: %w", err)
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(topic, sub)
	}()

	b.logger.Info("subscribed to nats subject",
		zap.String("topic", topic),
		zap.String("subject", Subject(topic)))
	return nil
}

// Unsubscribe drops every subscription of a topic
func (b *EventBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
		}
	}
	return nil
}

// Close drains the connection
func (b *EventBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string][]*nats.Subscription)
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}

func (b *EventBus) remove(topic string, sub *nats.Subscription) {
	b.mu.Lock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()

	_ = sub.Unsubscribe()
}

// Subject maps a topic to its NATS subject
func Subject(topic string) string {
	return SubjectPrefix + "." + topic
}
