package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/agentmesh/pkg/domain"
	"github.com/aescanero/agentmesh/pkg/ports"
)

const (
	bufferSize = 64
	writeWait  = 10 * time.Second
)

// Topics streamed to clients
var Topics = []string{
	domain.TopicWorkflow,
	domain.TopicNode,
	domain.TopicHandoff,
	domain.TopicSwarm,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleWorkflowStream streams the events of one run.
// Handoff events match on their conversation id, which defaults to the run id.
func (h *Handler) HandleWorkflowStream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reading is required for close frames to be processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	eventChan := make(chan domain.Event, bufferSize)
	h.subscribe(ctx, runID, eventChan)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("WebSocket connection closed", zap.String("run_id", runID))
			return
		case event := <-eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// subscribe forwards matching events until ctx ends
func (h *Handler) subscribe(ctx context.Context, runID string, ch chan<- domain.Event) {
	handler := func(_ context.Context, event domain.Event) error {
		if !matches(event, runID) {
			return nil
		}

		select {
		case ch <- event:
		case <-ctx.Done():
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	for _, topic := range Topics {
		if err := h.eventBus.Subscribe(ctx, topic, handler); err != nil {
			h.logger.Error("failed to subscribe to events",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}

func matches(event domain.Event, runID string) bool {
	if event.RunID == runID {
		return true
	}
	conversation, _ := event.Data["conversation_id"].(string)
	return conversation == runID
}
