package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	eventsmem "github.com/aescanero/agentmesh/pkg/adapters/events/memory"
	"github.com/aescanero/agentmesh/pkg/domain"
)

func TestMatches(t *testing.T) {
	assert.True(t, matches(domain.Event{RunID: "run-1"}, "run-1"))
	assert.True(t, matches(domain.Event{Data: map[string]any{"conversation_id": "run-1"}}, "run-1"))
	assert.False(t, matches(domain.Event{RunID: "run-2"}, "run-1"))
	assert.False(t, matches(domain.Event{}, "run-1"))
}

func TestHandleWorkflowStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := eventsmem.NewInMemoryEventBus(zap.NewNop())

	router := gin.New()
	router.GET("/api/v1/workflows/:id/ws", NewHandler(bus, nil).HandleWorkflowStream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workflows/run-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.TopicNode) == 1 && bus.SubscriberCount(domain.TopicHandoff) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.TopicNode, domain.Event{ID: "other", RunID: "run-2", Type: domain.EventTypeNodeStarted}))
	require.NoError(t, bus.Publish(ctx, domain.TopicNode, domain.Event{ID: "mine", RunID: "run-1", Type: domain.EventTypeNodeStarted}))
	require.NoError(t, bus.Publish(ctx, domain.TopicHandoff, domain.Event{
		ID:   "handoff",
		Type: domain.EventTypeHandoffProposed,
		Data: map[string]any{"conversation_id": "run-1"},
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first domain.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "mine", first.ID)

	var second domain.Event
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "handoff", second.ID)
	assert.Equal(t, domain.EventTypeHandoffProposed, second.Type)
}

func TestStreamUnsubscribesOnClose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := eventsmem.NewInMemoryEventBus(zap.NewNop())

	router := gin.New()
	router.GET("/api/v1/workflows/:id/ws", NewHandler(bus, nil).HandleWorkflowStream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workflows/run-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.TopicWorkflow) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.TopicWorkflow) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
