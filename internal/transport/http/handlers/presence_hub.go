package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

// Presence message types.
const (
	PresenceTypeUpdate   = "PRESENCE_UPDATE"
	PresenceTypeSnapshot = "PRESENCE_SNAPSHOT"

	PresenceActionJoined = "joined"
	PresenceActionLeft   = "left"
)

const (
	presenceWriteWait  = 10 * time.Second
	presencePongWait   = 60 * time.Second
	presencePingPeriod = (presencePongWait * 9) / 10
	presenceMaxMessage = 4096
	presenceSendBuffer = 32
)

// PresenceUpdate is broadcast when a user comes online or goes offline.
type PresenceUpdate struct {
	Type      string   `json:"type"`
	Action    string   `json:"action"`
	UserID    string   `json:"userId"`
	Online    []string `json:"online"`
	Timestamp int64    `json:"timestamp"`
}

// PresenceSnapshot lists the online users for a single socket.
type PresenceSnapshot struct {
	Type        string   `json:"type"`
	OnlineUsers []string `json:"onlineUsers"`
	Count       int      `json:"count"`
	Timestamp   int64    `json:"timestamp"`
}

type presenceClient struct {
	sessionID string
	userID    string
	conn      *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newPresenceClient(sessionID, userID string, conn *websocket.Conn) *presenceClient {
	return &presenceClient{
		sessionID: sessionID,
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, presenceSendBuffer),
	}
}

// enqueue queues data for the writer. It reports false when the client is
// closed or too slow to keep up.
func (c *presenceClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *presenceClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump owns all writes to the connection.
func (c *presenceClient) writePump() {
	ticker := time.NewTicker(presencePingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(presenceWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(presenceWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// PresenceHub fans presence changes out to every connected socket. The
// tracker stays the source of truth; the hub only records who to notify.
type PresenceHub struct {
	tracker *usecase.PresenceTracker
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	clients map[string]*presenceClient
}

// NewPresenceHub creates a hub over tracker.
func NewPresenceHub(tracker *usecase.PresenceTracker, logger *zap.Logger) *PresenceHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceHub{
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*presenceClient),
	}
}

// Tracker returns the underlying presence tracker.
func (h *PresenceHub) Tracker() *usecase.PresenceTracker {
	return h.tracker
}

// Connect registers a session and broadcasts an arrival when the user just came online.
// It fails with usecase.ErrSessionOwned when another user holds the session.
func (h *PresenceHub) Connect(sessionID, userID string) (bool, error) {
	joined, err := h.tracker.Claim(sessionID, userID)
	if err != nil {
		return false, err
	}
	if joined {
		h.broadcastUpdate(PresenceActionJoined, userID)
	}
	return joined, nil
}

// Disconnect removes a session owned by userID and broadcasts a departure when
// the user went offline.
func (h *PresenceHub) Disconnect(sessionID, userID string) (bool, error) {
	offline, err := h.tracker.DisconnectOwned(sessionID, userID)
	if err != nil {
		return false, err
	}
	if offline {
		h.broadcastUpdate(PresenceActionLeft, userID)
	}
	return offline, nil
}

// Clear drops every session and tells connected sockets the list is empty.
func (h *PresenceHub) Clear() {
	h.tracker.Clear()
	h.broadcast(h.snapshot())
}

// ClientCount returns the number of attached sockets.
func (h *PresenceHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches every socket. Called on shutdown.
func (h *PresenceHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*presenceClient)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *PresenceHub) attach(client *presenceClient) error {
	if _, err := h.Connect(client.sessionID, client.userID); err != nil {
		return err
	}

	h.mu.Lock()
	h.clients[client.sessionID] = client
	h.mu.Unlock()

	h.sendSnapshot(client)
	return nil
}

func (h *PresenceHub) detach(client *presenceClient) {
	h.mu.Lock()
	if current, ok := h.clients[client.sessionID]; ok && current == client {
		delete(h.clients, client.sessionID)
	}
	h.mu.Unlock()

	client.close()
	if _, err := h.Disconnect(client.sessionID, client.userID); err != nil {
		h.logger.Warn("presence session owned by another user", zap.String("session_id", client.sessionID))
	}
}

func (h *PresenceHub) sendSnapshot(client *presenceClient) {
	data, err := json.Marshal(h.snapshot())
	if err != nil {
		h.logger.Error("marshal presence snapshot", zap.Error(err))
		return
	}
	if !client.enqueue(data) {
		h.logger.Debug("presence snapshot dropped", zap.String("session_id", client.sessionID))
	}
}

func (h *PresenceHub) snapshot() PresenceSnapshot {
	users := h.tracker.OnlineUsers()
	return PresenceSnapshot{
		Type:        PresenceTypeSnapshot,
		OnlineUsers: users,
		Count:       len(users),
		Timestamp:   h.now().UnixMilli(),
	}
}

func (h *PresenceHub) broadcastUpdate(action, userID string) {
	h.broadcast(PresenceUpdate{
		Type:      PresenceTypeUpdate,
		Action:    action,
		UserID:    userID,
		Online:    h.tracker.OnlineUsers(),
		Timestamp: h.now().UnixMilli(),
	})
}

func (h *PresenceHub) broadcast(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal presence message", zap.Error(err))
		return
	}

	var slow []*presenceClient
	h.mu.RLock()
	for _, client := range h.clients {
		if !client.enqueue(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// Slow sockets are closed; their read loop then detaches them.
	for _, client := range slow {
		h.logger.Warn("closing slow presence socket", zap.String("session_id", client.sessionID))
		client.close()
	}
}
