package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatpro/internal/auth"
	"github.com/Tyrowin/chatpro/internal/hub"
	"github.com/Tyrowin/chatpro/internal/server"
	"github.com/Tyrowin/chatpro/internal/store"
)

const (
	testOrigin  = "http://localhost:5173"
	testSecret  = "test-secret"
	waitTimeout = 3 * time.Second
)

func testConfig(t *testing.T) server.Config {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Server.AllowedOrigins = []string{testOrigin}
	cfg.Uploads.Dir = filepath.Join(t.TempDir(), "uploads")
	cfg.JWT.Secret = testSecret
	return cfg
}

type testEnv struct {
	srv    *server.Server
	ts     *httptest.Server
	client *resty.Client
}

// startServer runs a Server over st on an httptest listener.
func startServer(t *testing.T, st store.Store) *testEnv {
	t.Helper()

	srv, err := server.New(testConfig(t), st, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})

	return &testEnv{
		srv:    srv,
		ts:     ts,
		client: resty.New().SetBaseURL(ts.URL).SetTimeout(5 * time.Second),
	}
}

func issueToken(t *testing.T, userID string) string {
	t.Helper()
	cfg := server.DefaultConfig().JWT
	cfg.Secret = testSecret
	tokens, err := auth.NewTokens(cfg)
	require.NoError(t, err)
	token, err := tokens.Issue(userID, userID+"@example.com", userID)
	require.NoError(t, err)
	return token
}

// dial opens /ws with the given raw query and the allowed test origin.
func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, err := e.tryDial(query, testOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) tryDial(query, origin string) (*websocket.Conn, error) {
	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(u, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func readEvent(t *testing.T, conn *websocket.Conn) hub.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := hub.Decode(data)
	require.NoError(t, err)
	return ev
}

// readUntil skips events until one of eventType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) hub.Event {
	t.Helper()
	for {
		if ev := readEvent(t, conn); ev.Type == eventType {
			return ev
		}
	}
}

// readPresence skips events until the roster equals want.
func readPresence(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()
	sort.Strings(want)
	for {
		ev := readUntil(t, conn, hub.EventGetOnlineUsers)
		users := []string{}
		require.NoError(t, json.Unmarshal(ev.Payload, &users))
		if strings.Join(users, ",") == strings.Join(want, ",") {
			return
		}
	}
}

func decodeMessage(t *testing.T, ev hub.Event) hub.MessagePayload {
	t.Helper()
	require.Equal(t, hub.EventReceiveMessage, ev.Type)
	var msg hub.MessagePayload
	require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	return msg
}
