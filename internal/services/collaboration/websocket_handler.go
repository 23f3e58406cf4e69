package collaboration

import (
	"context"
	"net/http"

	"coderoom/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin checks belong to the auth layer in front of this service
		return true
	},
}

// WebSocketHandler upgrades HTTP requests into collaboration sessions
type WebSocketHandler struct {
	sessionManager *SessionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(sessionManager *SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
	}
}

// HandleConnection serves GET /ws. Rooms and editors are joined afterwards
// with events on the socket.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("remote.addr", r.RemoteAddr),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.sessionManager.log.WithError(err).Warn("failed to upgrade WebSocket")
		middleware.AddSpanError(ctx, err)
		return
	}

	session := h.sessionManager.NewSession(conn, r.RemoteAddr)
	span.SetAttributes(attribute.String("conn.id", session.ID()))

	h.sessionManager.Register(session)

	// the request context is cancelled when this handler returns; the pumps
	// keep its trace values only
	sessionCtx := context.WithoutCancel(ctx)

	go session.WritePump(sessionCtx)
	go session.ReadPump(sessionCtx)
}
