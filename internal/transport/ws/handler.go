package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"typerace/internal/model"
	"typerace/internal/service"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type HandlerConfig struct {
	MaxMessageSize int64
	RequireToken   bool
	AllowedOrigins string
}

// Handler upgrades HTTP requests and runs the read/write pumps
type Handler struct {
	hub      *Hub
	authSvc  *service.AuthService
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(hub *Hub, authSvc *service.AuthService, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	h := &Handler{
		hub:     hub,
		authSvc: authSvc,
		cfg:     cfg,
		logger:  logger.With("component", "ws_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeWS handles GET /v1/ws
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	identity, err := h.authSvc.ResolveIdentity(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if identity == nil && h.cfg.RequireToken {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := h.hub.Register(identity)
	h.logger.Info("client connected", "conn_id", conn.ID, "user_id", userOf(identity))

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn)
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Deregister(conn)
		wsConn.Close()
		h.logger.Info("client disconnected", "conn_id", conn.ID)
	}()

	wsConn.SetReadLimit(h.cfg.MaxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		h.hub.Route(context.Background(), conn, data)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigins == "" || h.cfg.AllowedOrigins == "*" {
		return true
	}
	for _, allowed := range strings.Split(h.cfg.AllowedOrigins, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

func userOf(identity *model.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.UserID
}
