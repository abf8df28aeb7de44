package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

// SessionIDHeader lets HTTP clients name their presence session.
const SessionIDHeader = "X-Session-ID"

type presenceClientMessage struct {
	Type string `json:"type"`
}

// PresenceHandler exposes presence over HTTP and WebSocket.
type PresenceHandler struct {
	hub       *PresenceHub
	inspector middleware.TokenInspector
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewPresenceHandler builds a presence handler. allowedOrigins mirrors the CORS list.
func NewPresenceHandler(hub *PresenceHub, inspector middleware.TokenInspector, allowedOrigins []string, log *zap.Logger) *PresenceHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceHandler{
		hub:       hub,
		inspector: inspector,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log,
	}
}

// CodeSessionConflict marks a session id registered to another user.
const CodeSessionConflict = "SESSION_CONFLICT"

var presenceErrorCases = []ErrorCase{
	{Err: usecase.ErrSessionOwned, Status: http.StatusConflict, Code: CodeSessionConflict, Message: "Session belongs to another user"},
}

// RegisterRoutes binds the presence REST endpoints under r.
func (h *PresenceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
	r.POST("/connect", middleware.RequireAuthenticated(), h.connect)
	r.POST("/disconnect", middleware.RequireAuthenticated(), h.disconnect)
	r.POST("/clear", middleware.RequireRole(domain.RoleAdmin), h.clear)
}

func (h *PresenceHandler) list(c *gin.Context) {
	users := h.hub.Tracker().OnlineUsers()
	c.JSON(http.StatusOK, PresenceListResponse{OnlineUsers: users, Count: len(users)})
}

func (h *PresenceHandler) connect(c *gin.Context) {
	principal, _ := middleware.GetPrincipal(c)

	sessionID := strings.TrimSpace(c.GetHeader(SessionIDHeader))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if _, err := h.hub.Connect(sessionID, principal.Email); err != nil {
		RespondError(c, err, presenceErrorCases...)
		return
	}
	c.JSON(http.StatusOK, PresenceConnectResponse{
		SessionID: sessionID,
		UserID:    principal.Email,
		Online:    h.hub.Tracker().IsOnline(principal.Email),
	})
}

func (h *PresenceHandler) disconnect(c *gin.Context) {
	var req PresenceDisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindingError(c, err)
		return
	}

	principal, _ := middleware.GetPrincipal(c)
	sessionID := strings.TrimSpace(req.SessionID)
	if _, err := h.hub.Disconnect(sessionID, principal.Email); err != nil {
		RespondError(c, err, presenceErrorCases...)
		return
	}
	c.JSON(http.StatusOK, PresenceConnectResponse{
		SessionID: sessionID,
		UserID:    principal.Email,
		Online:    h.hub.Tracker().IsOnline(principal.Email),
	})
}

func (h *PresenceHandler) clear(c *gin.Context) {
	h.hub.Clear()
	logger.WithContext(c.Request.Context()).Info("presence cleared")
	c.JSON(http.StatusOK, MessageResponse{Message: "All users cleared"})
}

// ServeWS upgrades an authenticated request into a presence socket. The
// token comes from the token query parameter or the Authorization header.
func (h *PresenceHandler) ServeWS(c *gin.Context) {
	token, ok := socketToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.CodeAuthenticationRequired, "Authentication required"))
		return
	}

	principal, err := middleware.ResolvePrincipal(h.inspector, token)
	if err != nil {
		code := middleware.CodeInvalidToken
		message := "Invalid token"
		if errors.Is(err, security.ErrTokenExpired) {
			code, message = middleware.CodeTokenExpired, "Token expired"
		}
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, code, message))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("presence upgrade failed", zap.Error(err))
		return
	}

	client := newPresenceClient(uuid.NewString(), principal.Email, conn)
	go client.writePump()
	if err := h.hub.attach(client); err != nil {
		h.logger.Warn("presence socket rejected", zap.Error(err))
		client.close()
		return
	}

	h.logger.Debug("presence socket opened",
		zap.String("session_id", client.sessionID),
		zap.String("user", logger.MaskEmail(principal.Email)),
	)

	h.readLoop(client)
	h.hub.detach(client)

	h.logger.Debug("presence socket closed", zap.String("session_id", client.sessionID))
}

func (h *PresenceHandler) readLoop(client *presenceClient) {
	conn := client.conn
	conn.SetReadLimit(presenceMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(presencePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(presencePongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("presence socket read failed", zap.Error(err))
			}
			return
		}

		var msg presenceClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(msg.Type), "list") {
			h.hub.sendSnapshot(client)
		}
	}
}

// socketToken reads the handshake token. Browsers cannot set headers on
// WebSocket requests, so a "token" query value wins over Authorization.
func socketToken(c *gin.Context) (string, bool) {
	if raw := strings.TrimSpace(c.Query("token")); raw != "" {
		for _, prefix := range []string{"Bearer ", "Bearer+", "Bearer%20"} {
			if len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
				raw = strings.TrimSpace(raw[len(prefix):])
				break
			}
		}
		return raw, raw != ""
	}
	return middleware.BearerToken(c.GetHeader("Authorization"))
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowAll := false
	origins := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAll = true
		} else if origin != "" {
			origins[origin] = true
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		if origins[origin] {
			return true
		}
		// Same-origin requests are always allowed.
		return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
	}
}
