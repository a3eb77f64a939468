package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/sandboxctl/internal/common/logger"
	"github.com/kandev/sandboxctl/internal/events/bus"
)

// wsHandler serves the supplementary GET /runs/:id/ws live tail: the same
// canonical run events the SSE route emits, framed as JSON text messages.
// In the shape of a typical streaming-client read/write pump, narrowed
// to one subscription per connection since each socket tails exactly one
// run_id.
type wsHandler struct {
	upgrader websocket.Upgrader
	eventBus bus.EventBus
	logger   *logger.Logger
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func newWSHandler(eventBus bus.EventBus, log *logger.Logger) *wsHandler {
	return &wsHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "httpapi_ws")),
	}
}

func (h *wsHandler) tail(c *gin.Context) {
	runID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket connection", zap.String("run_id", runID), zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan []byte, 64)
	sub, err := h.eventBus.Subscribe(bus.RunSubject(runID), func(ctx context.Context, event *bus.Event) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		select {
		case send <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("failed to subscribe to run subject", zap.String("run_id", runID), zap.Error(err))
		return
	}
	defer sub.Unsubscribe()

	go h.readPump(conn)
	h.writePump(conn, send)
}

// readPump drains and discards client frames, only watching for connection
// close; this tail is one-directional (server -> client).
func (h *wsHandler) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHandler) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
