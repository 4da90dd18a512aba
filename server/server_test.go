package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"roomhub/db"
	"roomhub/hub"
	"roomhub/models"
)

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	database *db.DB
	stopHub  func()
}

// setupTestServer starts a hub and an httptest server backed by a temporary
// sqlite database.
func setupTestServer(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "roomhub-test-*.db")
	require.NoError(t, err)
	tmpfile.Close()
	os.Remove(tmpfile.Name())

	database, err := db.New(tmpfile.Name(), 50)
	require.NoError(t, err)
	database.SetCost(bcrypt.MinCost)

	manager := hub.NewManager(hub.Options{
		RequireAuth:       true,
		ColorCount:        10,
		MaxHistory:        50,
		MaxNickChanges:    3,
		MinNickLength:     2,
		MaxNickLength:     32,
		MaxRoomNameLength: 64,
		MaxMessageLength:  2000,
		SendBuffer:        64,
		StoreTimeout:      2 * time.Second,
	}, database, database)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = manager.Run(ctx)
		close(done)
	}()

	config := &ServerConfig{
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		HistoryTimeout: 2 * time.Second,
		MaxFrameSize:   4096,
		MaxHistory:     50,
		MaxRoomName:    64,
		AllowedOrigins: []string{"https://chat.example.com"},
	}
	if mutate != nil {
		mutate(config)
	}
	srv := New(manager, database, config)
	ts := httptest.NewServer(srv.Handler())

	var once sync.Once
	stopHub := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(func() {
		stopHub()
		ts.Close()
		database.Close()
		os.Remove(tmpfile.Name())
	})

	return &testEnv{srv: srv, ts: ts, database: database, stopHub: stopHub}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
}

func (e *testEnv) dial(t *testing.T, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func (e *testEnv) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := e.dial(t, "")
	require.NoError(t, err)
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, v map[string]any) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteJSON(v))
}

func readResponse(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(frame, &ev))
	return ev
}

func expectType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	ev := readResponse(t, conn)
	require.Equal(t, typ, ev["type"], "unexpected event %v", ev)
	return ev
}

func (e *testEnv) register(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	conn := e.connect(t)
	sendRequest(t, conn, map[string]any{"type": "register", "username": name, "password": "password123"})
	ev := expectType(t, conn, "auth_success")
	require.Equal(t, name, ev["username"])
	expectType(t, conn, "history")
	return conn
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestRegisterAndChat(t *testing.T) {
	env := setupTestServer(t, nil)

	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	ev := expectType(t, alice, "system")
	assert.Equal(t, "bob joined the room", ev["message"])

	sendRequest(t, alice, map[string]any{"type": "message", "text": "hello"})
	msg := expectType(t, bob, "message")
	assert.Equal(t, "alice", msg["username"])
	assert.Equal(t, "hello", msg["text"])
	assert.Equal(t, "lobby", msg["room"])

	require.Eventually(t, func() bool {
		var hist struct {
			Messages []models.Message `json:"messages"`
		}
		status := getJSON(t, env.ts.URL+"/rooms/lobby/history", &hist)
		return status == http.StatusOK && len(hist.Messages) == 1 && hist.Messages[0].Text == "hello"
	}, 3*time.Second, 20*time.Millisecond)

	var rooms []hub.RoomInfo
	require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/rooms", &rooms))
	assert.Equal(t, []hub.RoomInfo{{Name: "lobby", Members: 2}}, rooms)
}

func TestLoginExistingUser(t *testing.T) {
	env := setupTestServer(t, nil)
	require.NoError(t, env.database.Create(context.Background(), "carol", "password123"))

	conn := env.connect(t)
	sendRequest(t, conn, map[string]any{"type": "login", "username": "carol", "password": "wrong"})
	expectType(t, conn, "auth_error")

	sendRequest(t, conn, map[string]any{"type": "login", "username": "CAROL", "password": "password123"})
	ev := expectType(t, conn, "auth_success")
	assert.Equal(t, "CAROL", ev["username"])
}

func TestUnauthenticatedAccess(t *testing.T) {
	env := setupTestServer(t, nil)
	conn := env.connect(t)

	sendRequest(t, conn, map[string]any{"type": "message", "text": "hi"})
	ev := expectType(t, conn, "error")
	assert.Equal(t, hub.ErrNotAuthenticated.Error(), ev["message"])
}

func TestOriginPolicy(t *testing.T) {
	env := setupTestServer(t, nil)

	_, resp, err := env.dial(t, "https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, _, err = env.dial(t, "HTTPS://Chat.Example.com")
	assert.NoError(t, err)

	_, _, err = env.dial(t, "")
	assert.NoError(t, err)
}

func TestOriginPolicyNormalization(t *testing.T) {
	p := newOriginPolicy([]string{" https://A.example ", "not a url", ""})
	assert.False(t, p.allowAll)
	assert.Equal(t, map[string]struct{}{"https://a.example": {}}, p.allowed)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://a.example")
	assert.True(t, p.check(r))
	r.Header.Set("Origin", "https://b.example")
	assert.False(t, p.check(r))

	assert.True(t, newOriginPolicy([]string{"*"}).allowAll)
}

func TestHistoryEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	for _, text := range []string{"m1", "m2", "m3"} {
		require.NoError(t, env.database.Append(ctx, models.Message{Room: "game night", Author: "x", Text: text, Timestamp: 1}))
	}

	var hist struct {
		Room     string           `json:"room"`
		Messages []models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/rooms/game%20night/history?limit=2", &hist))
	assert.Equal(t, "game night", hist.Room)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "m2", hist.Messages[0].Text)
	assert.Equal(t, "m3", hist.Messages[1].Text)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.ts.URL+"/rooms/lobby/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, env.ts.URL+"/rooms/lobby/history?limit=0", nil))

	var empty struct {
		Messages []models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/rooms/nowhere/history", &empty))
	assert.NotNil(t, empty.Messages)
	assert.Empty(t, empty.Messages)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	env := setupTestServer(t, func(c *ServerConfig) { c.MaxFrameSize = 128 })
	conn := env.register(t, "alice")

	sendRequest(t, conn, map[string]any{"type": "message", "text": strings.Repeat("x", 1024)})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	require.Eventually(t, func() bool {
		stats, err := env.srv.GetStats(context.Background())
		return err == nil && strings.HasPrefix(stats, "connections=0,")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGetStats(t *testing.T) {
	env := setupTestServer(t, nil)
	env.register(t, "alice")
	env.connect(t)

	require.Eventually(t, func() bool {
		stats, err := env.srv.GetStats(context.Background())
		return err == nil && stats == "connections=2,authenticated=1,rooms=lobby:1,users=alice"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHubShutdownClosesWebsockets(t *testing.T) {
	env := setupTestServer(t, nil)
	conn := env.register(t, "alice")

	env.stopHub()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	late, _, err := env.dial(t, "")
	require.NoError(t, err)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	var rooms []hub.RoomInfo
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, env.ts.URL+"/rooms", &rooms))
}
