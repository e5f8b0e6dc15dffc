package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/service/engine"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler streams engine events over one connection per user.
type WebSocketHandler struct {
	engine   Engine
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocket transport for eng.
func NewWebSocketHandler(eng Engine) *WebSocketHandler {
	return &WebSocketHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes mounts the socket endpoint.
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/users/{userID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      engine.EventKind `json:"type"`
	PersonaID string           `json:"personaId"`
	Text      string           `json:"text"`
	Data      string           `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// socket serializes data frames; pings go through WriteControl.
type socket struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger zerolog.Logger
}

func (s *socket) send(msg outgoingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn().Err(err).Str("type", msg.Type).Msg("websocket write failed")
	}
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "websocket").Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().Str("component", "websocket").Int64("user_id", userID).Logger()
	logger.Info().Msg("connection opened")
	defer logger.Info().Msg("connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sock := &socket{conn: conn, logger: logger}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	sock.send(outgoingMessage{
		Type:      "connected",
		Data:      map[string]any{"userId": userID},
		Timestamp: time.Now().Unix(),
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, sock, userID, msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, sock *socket, userID int64, msg inboundMessage) {
	if msg.Type == "" {
		h.sendError(sock, "message type is required")
		return
	}

	resp := h.engine.Handle(ctx, engine.Event{
		Kind:      msg.Type,
		UserID:    userID,
		PersonaID: msg.PersonaID,
		Text:      msg.Text,
		Data:      msg.Data,
	})

	frameType := "reply"
	if resp.Error != "" {
		frameType = "error"
	}
	sock.send(outgoingMessage{Type: frameType, Data: resp, Timestamp: time.Now().Unix()})
}

func (h *WebSocketHandler) sendError(sock *socket, message string) {
	sock.send(outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	})
}

// pingLoop keeps the read deadline alive on idle connections.
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
