package events

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/logging"
	chatService "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/pkg/utils"
)

const (
	heartbeatInterval = 15 * time.Second
	pingInterval      = 54 * time.Second
	pongWait          = 60 * time.Second
	writeWait         = 10 * time.Second
	subscriberBuffer  = 64
)

// Handler 通过 SSE 与 WebSocket 推送会话事件
type Handler struct {
	hub      *chatService.Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建事件推送处理器
func New(hub *chatService.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub: hub,
		log: logging.OrNop(logger).Named("events"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册事件相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleSSE)
	r.Get("/events/ws", h.handleWebSocket)
}

// handleSSE 以 Server-Sent Events 推送事件，并定时发送心跳
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.hub.Subscribe(subscriberBuffer)
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established"}); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				h.log.Debug("sse write failed", zap.Error(err))
				return
			}
		case t := <-ticker.C:
			err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return
			}
		}
	}
}

// handleWebSocket 以 WebSocket 推送事件，连接只读不写
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe(subscriberBuffer)
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go h.readLoop(conn, stop)

	h.log.Debug("websocket subscriber connected", zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop 消费客户端消息以处理 pong 与关闭帧
func (h *Handler) readLoop(conn *websocket.Conn, stop context.CancelFunc) {
	defer stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}
