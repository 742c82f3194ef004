package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"updatehub/internal/auth"
	"updatehub/internal/models"
	"updatehub/internal/ratelimit"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to WebSocket sessions and runs the
// per-connection read and write pumps.
type Handler struct {
	registry      *Registry
	hub           *Hub
	authenticator auth.Authenticator
	config        models.RealtimeConfig
	requireAuth   bool
	logger        *slog.Logger
	upgrader      websocket.Upgrader
}

// NewHandler creates a WebSocket handler. authenticator may be nil when auth
// is disabled.
func NewHandler(registry *Registry, hub *Hub, authenticator auth.Authenticator, requireAuth bool, config models.RealtimeConfig, logger *slog.Logger) *Handler {
	return &Handler{
		registry:      registry,
		hub:           hub,
		authenticator: authenticator,
		config:        config,
		requireAuth:   requireAuth,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Update clients are native applications, not browsers; origin
			// checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements the /api/v1/ws endpoint. The bearer token is taken
// from the Authorization header or, for clients that cannot set headers on
// the handshake, a token query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity *auth.Identity
	if h.requireAuth {
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "Missing token", models.ErrorCodeUnauthorized)
			return
		}
		id, err := h.authenticator.Verify(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "Invalid token", models.ErrorCodeUnauthorized)
			return
		}
		identity = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	clientKey := r.URL.Query().Get("client_key")
	if clientKey == "" && identity != nil {
		clientKey = identity.Subject
	}
	if clientKey == "" {
		clientKey = ratelimit.ClientIP(r)
	}

	session := h.registry.Register(clientKey, r.URL.Query().Get("client_version"), r.RemoteAddr)
	if channel := r.URL.Query().Get("channel"); channel != "" {
		session.Subscribe(channel)
	}

	session.queue.push(models.Event{
		Type: models.EventWelcome,
		Data: models.WelcomePayload{
			SessionID:         session.ID,
			HeartbeatInterval: h.config.HeartbeatInterval,
			ServerTime:        time.Now().UTC(),
		},
	})

	go h.writePump(conn, session)
	h.readPump(conn, session)
}

// readPump consumes inbound messages until the connection drops. Any
// well-formed message doubles as a liveness signal.
func (h *Handler) readPump(conn *websocket.Conn, session *Session) {
	defer func() {
		h.registry.Disconnect(session.ID)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	resetDeadline := func() {
		if h.config.SessionTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(h.config.SessionTimeout))
		}
	}
	resetDeadline()
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return h.registry.Heartbeat(session.ID)
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", "session_id", session.ID, "error", err)
			}
			return
		}
		resetDeadline()
		h.registry.Heartbeat(session.ID)

		var msg models.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			session.queue.push(models.Event{
				Type: models.EventError,
				Data: models.ErrorPayload{Code: models.ErrorCodeBadRequest, Message: "malformed message"},
			})
			continue
		}
		h.handleMessage(session, msg)
	}
}

func (h *Handler) handleMessage(session *Session, msg models.ClientMessage) {
	switch msg.Type {
	case models.MessageRegister:
		var payload models.RegisterPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err == nil {
				session.ClientVersion = payload.ClientVersion
			}
		}

	case models.MessageSubscribe, models.MessageUnsubscribe:
		var payload models.SubscribePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || !models.IsValidChannel(payload.Channel) {
			session.queue.push(models.Event{
				Type: models.EventError,
				Data: models.ErrorPayload{Code: models.ErrorCodeBadRequest, Message: "unknown channel"},
			})
			return
		}
		if msg.Type == models.MessageSubscribe {
			session.Subscribe(payload.Channel)
		} else {
			session.Unsubscribe(payload.Channel)
		}

	case models.MessagePing:
		session.queue.push(models.Event{Type: models.EventHeartbeat})

	default:
		session.queue.push(models.Event{
			Type: models.EventError,
			Data: models.ErrorPayload{Code: models.ErrorCodeBadRequest, Message: "unsupported message type: " + msg.Type},
		})
	}
}

// writePump drains the session's outbound queue onto the wire and sends
// periodic pings. It exits when the queue closes (disconnect or sweep) or a
// write fails.
func (h *Handler) writePump(conn *websocket.Conn, session *Session) {
	pingInterval := h.config.HeartbeatInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	writeDeadline := func() time.Time {
		if h.config.WriteTimeout > 0 {
			return time.Now().Add(h.config.WriteTimeout)
		}
		return time.Now().Add(10 * time.Second)
	}

	for {
		for {
			event, ok := session.queue.pop()
			if !ok {
				break
			}
			conn.SetWriteDeadline(writeDeadline())
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("WebSocket write error", "session_id", session.ID, "error", err)
				h.registry.Disconnect(session.ID)
				return
			}
		}

		if session.queue.isClosed() {
			conn.SetWriteDeadline(writeDeadline())
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		select {
		case <-session.queue.wait():
		case <-ticker.C:
			conn.SetWriteDeadline(writeDeadline())
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.registry.Disconnect(session.ID)
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return r.URL.Query().Get("token")
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
