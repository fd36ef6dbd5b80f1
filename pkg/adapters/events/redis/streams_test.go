package redis

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*StreamsEventBus, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewStreamsEventBus(client, "agentmesh", "test-consumer", nil)
	require.NoError(t, err)
	bus.block = 20 * time.Millisecond
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr, client
}

func TestNewStreamsEventBusValidates(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "g", "c", nil)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	_, err = NewStreamsEventBus(client, "", "c", nil)
	assert.Error(t, err)
}

func TestPublishAppendsToStream(t *testing.T) {
	bus, _, client := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, domain.TopicWorkflow, domain.Event{
		ID:    "ev-1",
		Type:  domain.EventTypeRunStarted,
		RunID: "run-1",
	}))

	msgs, err := client.XRange(ctx, "agentmesh:events:workflow.events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "run.started", msgs[0].Values["type"])
	assert.Contains(t, msgs[0].Values["data"], `"run_id":"run-1"`)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	bus, _, _ := newTestBus(t)
	ctx := context.Background()

	received := make(chan domain.Event, 4)
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNode, func(ctx context.Context, ev domain.Event) error {
		received <- ev
		return nil
	}))
	// A second subscription on the same group must not fail.
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNode, func(ctx context.Context, ev domain.Event) error {
		received <- ev
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, domain.TopicNode, domain.Event{ID: "n-1", NodeID: "a", Type: domain.EventTypeNodeCompleted}))

	select {
	case ev := <-received:
		assert.Equal(t, "n-1", ev.ID)
		assert.Equal(t, "a", ev.NodeID)
		assert.Equal(t, domain.EventTypeNodeCompleted, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	require.NoError(t, bus.Unsubscribe(ctx, domain.TopicNode))
	require.NoError(t, bus.Close())
}
