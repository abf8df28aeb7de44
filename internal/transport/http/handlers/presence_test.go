package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/dota-pilot1/dota-admin-backend/internal/core/domain"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/security"
	"github.com/dota-pilot1/dota-admin-backend/internal/usecase"
)

type presenceFixture struct {
	router *gin.Engine
	codec  *security.TokenCodec
	hub    *PresenceHub
}

func newPresenceFixture(t *testing.T) *presenceFixture {
	t.Helper()

	codec := newTestCodec(t)
	hub := NewPresenceHub(usecase.NewPresenceTracker(), zaptest.NewLogger(t))
	handler := NewPresenceHandler(hub, codec, []string{"*"}, zaptest.NewLogger(t))

	router := newTestEngine(t, codec)
	handler.RegisterRoutes(router.Group("/api/presence"))
	router.GET("/ws/presence", handler.ServeWS)

	return &presenceFixture{router: router, codec: codec, hub: hub}
}

func TestPresenceHTTPLifecycle(t *testing.T) {
	f := newPresenceFixture(t)
	token := issueToken(t, f.codec, "a@x.io", domain.RoleUser)

	rr := perform(f.router, request{method: http.MethodPost, path: "/api/presence/connect"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected anonymous connect to be rejected, got %d", rr.Code)
	}

	rr = perform(f.router, request{
		method: http.MethodPost,
		path:   "/api/presence/connect",
		token:  token,
		header: map[string]string{SessionIDHeader: "tab-1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var connected PresenceConnectResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &connected); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if connected.SessionID != "tab-1" || connected.UserID != "a@x.io" || !connected.Online {
		t.Fatalf("unexpected connect response %+v", connected)
	}

	rr = perform(f.router, request{method: http.MethodPost, path: "/api/presence/connect", token: token})
	if err := json.Unmarshal(rr.Body.Bytes(), &connected); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if connected.SessionID == "" || connected.SessionID == "tab-1" {
		t.Fatalf("expected a generated session id, got %q", connected.SessionID)
	}

	rr = perform(f.router, request{method: http.MethodGet, path: "/api/presence"})
	var list PresenceListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.OnlineUsers[0] != "a@x.io" {
		t.Fatalf("expected one online user, got %+v", list)
	}

	rr = perform(f.router, request{method: http.MethodPost, path: "/api/presence/disconnect", token: token, body: `{"sessionId":"tab-1"}`})
	if err := json.Unmarshal(rr.Body.Bytes(), &connected); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !connected.Online {
		t.Fatalf("user should stay online with a second session")
	}

	rr = perform(f.router, request{method: http.MethodPost, path: "/api/presence/clear", token: token})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected members to be denied clear, got %d", rr.Code)
	}

	rr = perform(f.router, request{method: http.MethodPost, path: "/api/presence/clear", token: issueToken(t, f.codec, "root@x.io", domain.RoleAdmin)})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin clear to succeed, got %d", rr.Code)
	}
	if users := f.hub.Tracker().OnlineUsers(); len(users) != 0 {
		t.Fatalf("expected tracker to be empty, got %v", users)
	}
}

func TestPresenceSessionsStayWithTheirOwner(t *testing.T) {
	f := newPresenceFixture(t)
	alice := issueToken(t, f.codec, "alice@x.io", domain.RoleUser)
	bob := issueToken(t, f.codec, "bob@x.io", domain.RoleUser)
	tab := map[string]string{SessionIDHeader: "tab1"}

	rr := perform(f.router, request{method: http.MethodPost, path: "/api/presence/connect", token: alice, header: tab})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(f.router, request{method: http.MethodPost, path: "/api/presence/connect", token: bob, header: tab})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a foreign session id, got %d: %s", rr.Code, rr.Body.String())
	}
	var body ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ErrorCode != CodeSessionConflict {
		t.Fatalf("expected %s, got %+v", CodeSessionConflict, body)
	}

	rr = perform(f.router, request{method: http.MethodPost, path: "/api/presence/disconnect", token: bob, body: `{"sessionId":"tab1"}`})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a foreign disconnect, got %d: %s", rr.Code, rr.Body.String())
	}

	tracker := f.hub.Tracker()
	if !tracker.IsOnline("alice@x.io") || tracker.IsOnline("bob@x.io") {
		t.Fatalf("session moved: alice=%v bob=%v", tracker.IsOnline("alice@x.io"), tracker.IsOnline("bob@x.io"))
	}

	rr = perform(f.router, request{method: http.MethodPost, path: "/api/presence/disconnect", token: alice, body: `{"sessionId":"tab1"}`})
	if rr.Code != http.StatusOK || tracker.IsOnline("alice@x.io") {
		t.Fatalf("owner disconnect should succeed, got %d online=%v", rr.Code, tracker.IsOnline("alice@x.io"))
	}
}

type socketMessage struct {
	Type        string   `json:"type"`
	Action      string   `json:"action"`
	UserID      string   `json:"userId"`
	Online      []string `json:"online"`
	OnlineUsers []string `json:"onlineUsers"`
	Count       int      `json:"count"`
}

func dialPresence(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/presence?token=" + url.QueryEscape("Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial presence socket: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readSocket(t *testing.T, conn *websocket.Conn) socketMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg socketMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read socket: %v", err)
	}
	return msg
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) socketMessage {
	t.Helper()
	for i := 0; i < 5; i++ {
		msg := readSocket(t, conn)
		if msg.Type == wantType {
			return msg
		}
	}
	t.Fatalf("no %s message received", wantType)
	return socketMessage{}
}

func TestPresenceSocketBroadcasts(t *testing.T) {
	f := newPresenceFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()
	defer f.hub.Close()

	alice := dialPresence(t, server, issueToken(t, f.codec, "alice@x.io", domain.RoleUser))

	joined := readSocket(t, alice)
	if joined.Type != PresenceTypeUpdate || joined.Action != PresenceActionJoined || joined.UserID != "alice@x.io" {
		t.Fatalf("expected own arrival, got %+v", joined)
	}
	snapshot := readSocket(t, alice)
	if snapshot.Type != PresenceTypeSnapshot || snapshot.Count != 1 {
		t.Fatalf("expected snapshot on connect, got %+v", snapshot)
	}

	bob := dialPresence(t, server, issueToken(t, f.codec, "bob@x.io", domain.RoleUser))
	update := readSocket(t, alice)
	if update.Action != PresenceActionJoined || update.UserID != "bob@x.io" || len(update.Online) != 2 {
		t.Fatalf("expected bob's arrival, got %+v", update)
	}

	if err := alice.WriteJSON(map[string]string{"type": "list"}); err != nil {
		t.Fatalf("write list request: %v", err)
	}
	listed := readUntil(t, alice, PresenceTypeSnapshot)
	if listed.Count != 2 {
		t.Fatalf("expected two users in snapshot, got %+v", listed)
	}

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.Close()

	left := readUntil(t, alice, PresenceTypeUpdate)
	if left.Action != PresenceActionLeft || left.UserID != "bob@x.io" {
		t.Fatalf("expected bob's departure, got %+v", left)
	}
	if f.hub.Tracker().IsOnline("bob@x.io") {
		t.Fatalf("bob should be offline after closing the socket")
	}
}

func TestPresenceSocketRequiresToken(t *testing.T) {
	f := newPresenceFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/presence"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token=garbage", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %v", err)
	}
}

func TestSocketToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		target string
		header string
		want   string
		ok     bool
	}{
		{target: "/ws?token=abc", want: "abc", ok: true},
		{target: "/ws?token=Bearer%20abc", want: "abc", ok: true},
		{target: "/ws?token=Bearer+abc", want: "abc", ok: true},
		{target: "/ws?token=Bearer%2Babc", want: "abc", ok: true},
		{target: "/ws", header: "Bearer xyz", want: "xyz", ok: true},
		{target: "/ws", ok: false},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, tc.target, nil)
		if tc.header != "" {
			c.Request.Header.Set("Authorization", tc.header)
		}
		got, ok := socketToken(c)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("socketToken(%s) = %q, %v; want %q, %v", tc.target, got, ok, tc.want, tc.ok)
		}
	}
}
