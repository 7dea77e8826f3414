package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatpro/internal/hub"
	"github.com/Tyrowin/chatpro/internal/server"
	"github.com/Tyrowin/chatpro/internal/store"
)

func openStore(t *testing.T) *store.GormStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(t.Context()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func (e *testEnv) signup(t *testing.T, name string) server.AuthResponse {
	t.Helper()
	var got server.AuthResponse
	resp, err := e.client.R().
		SetBody(map[string]string{
			"email":    strings.ToLower(name) + "@example.com",
			"fullName": name,
			"password": "pw-" + name,
		}).
		SetResult(&got).
		Post("/api/auth/signup")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), string(resp.Body()))
	return got
}

func TestChatScenario(t *testing.T) {
	env := startServer(t, openStore(t))
	alice := env.signup(t, "Alice")
	bob := env.signup(t, "Bob")

	aliceWS := env.dial(t, "access_token="+alice.Token)
	readPresence(t, aliceWS, alice.ID)

	bobWS := env.dial(t, "access_token="+bob.Token)
	readPresence(t, aliceWS, alice.ID, bob.ID)
	readPresence(t, bobWS, alice.ID, bob.ID)

	// HTTP send: saved, then pushed to the receiver only.
	var sent server.MessageResponse
	resp, err := env.client.R().
		SetAuthToken(alice.Token).
		SetMultipartFormData(map[string]string{"receiverId": bob.ID, "text": "hi bob"}).
		SetResult(&sent).
		Post("/api/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), string(resp.Body()))

	pushed := decodeMessage(t, readUntil(t, bobWS, hub.EventReceiveMessage))
	assert.Equal(t, sent.ID, pushed.ID)
	assert.Equal(t, alice.ID, pushed.SenderID)
	assert.Equal(t, "hi bob", *pushed.Text)

	// Socket send: saved, then delivered to the receiver and echoed to the sender.
	require.NoError(t, bobWS.WriteJSON(map[string]any{
		"type":    hub.FrameSendMessage,
		"payload": map[string]string{"receiverId": alice.ID, "text": "hey alice"},
	}))

	got := decodeMessage(t, readUntil(t, aliceWS, hub.EventReceiveMessage))
	assert.Equal(t, "hey alice", *got.Text, "alice must not have been echoed her own HTTP message")
	assert.Equal(t, bob.ID, got.SenderID)

	echo := decodeMessage(t, readUntil(t, bobWS, hub.EventReceiveMessage))
	assert.Equal(t, got.ID, echo.ID)

	var history []server.MessageResponse
	resp, err = env.client.R().SetAuthToken(alice.Token).SetResult(&history).Get("/api/messages/" + bob.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, history, 2)
	assert.Equal(t, "hi bob", *history[0].Text)
	assert.Equal(t, "hey alice", *history[1].Text)

	var partners []server.UserResponse
	resp, err = env.client.R().SetAuthToken(alice.Token).SetResult(&partners).Get("/api/messages/users")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, partners, 1)
	assert.Equal(t, bob.ID, partners[0].ID)

	// Profile picture change reaches every connection.
	var updated server.AuthResponse
	resp, err = env.client.R().
		SetAuthToken(alice.Token).
		SetFileReader("file", "me.png", strings.NewReader("png-bytes")).
		SetResult(&updated).
		Post("/api/auth/update-profilepic")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), string(resp.Body()))
	require.NotNil(t, updated.ProfilePictureURL)
	url := *updated.ProfilePictureURL

	for _, conn := range []*websocket.Conn{aliceWS, bobWS} {
		ev := readUntil(t, conn, hub.EventUserProfileUpdated)
		var p hub.ProfilePayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, alice.ID, p.UserID)
		assert.Equal(t, url, p.ProfilePictureURL)
	}

	resp, err = env.client.R().Get(url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "png-bytes", string(resp.Body()))

	resp, err = env.client.R().Get("/uploads/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
	assert.NotContains(t, string(resp.Body()), strings.TrimPrefix(url, "/uploads/"))

	// Leaving updates everyone else's roster.
	require.NoError(t, bobWS.Close())
	readPresence(t, aliceWS, alice.ID)
}

func TestImageProfilePictureUploadIsNotBroadcast(t *testing.T) {
	env := startServer(t, openStore(t))
	alice := env.signup(t, "Alice")
	bob := env.signup(t, "Bob")

	bobWS := env.dial(t, "access_token="+bob.Token)
	readPresence(t, bobWS, bob.ID)

	var got server.ProfilePictureResponse
	resp, err := env.client.R().
		SetAuthToken(alice.Token).
		SetFileReader("file", "avatar.png", strings.NewReader("avatar-bytes")).
		SetResult(&got).
		Post("/api/image/profile-picture")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), string(resp.Body()))
	require.True(t, strings.HasPrefix(got.ProfilePictureURL, "/uploads/"), got.ProfilePictureURL)
	assert.NotContains(t, string(resp.Body()), "token")

	var me server.UserResponse
	resp, err = env.client.R().SetAuthToken(alice.Token).SetResult(&me).Get("/api/user/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NotNil(t, me.ProfilePictureURL)
	assert.Equal(t, got.ProfilePictureURL, *me.ProfilePictureURL)

	resp, err = env.client.R().Get(got.ProfilePictureURL)
	require.NoError(t, err)
	assert.Equal(t, "avatar-bytes", string(resp.Body()))

	// A profile event would arrive before this roster update if one had been sent.
	aliceWS := env.dial(t, "access_token="+alice.Token)
	readPresence(t, aliceWS, alice.ID, bob.ID)
	ev := readEvent(t, bobWS)
	assert.Equal(t, hub.EventGetOnlineUsers, ev.Type)

	resp, err = env.client.R().
		SetAuthToken(alice.Token).
		SetMultipartFormData(map[string]string{"note": "no file"}).
		Post("/api/image/profile-picture")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())

	resp, err = env.client.R().
		SetFileReader("file", "avatar.png", strings.NewReader("avatar-bytes")).
		Post("/api/image/profile-picture")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}

func TestSecondConnectionTakesOverDelivery(t *testing.T) {
	env := startServer(t, openStore(t))
	alice := env.signup(t, "Alice")
	bob := env.signup(t, "Bob")

	firstTab := env.dial(t, "access_token="+bob.Token)
	readPresence(t, firstTab, bob.ID)
	secondTab := env.dial(t, "access_token="+bob.Token)
	readPresence(t, secondTab, bob.ID)

	resp, err := env.client.R().
		SetAuthToken(alice.Token).
		SetMultipartFormData(map[string]string{"receiverId": bob.ID, "text": "which tab?"}).
		Post("/api/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())

	msg := decodeMessage(t, readUntil(t, secondTab, hub.EventReceiveMessage))
	assert.Equal(t, "which tab?", *msg.Text)

	// Closing the superseded tab leaves delivery on the second one.
	require.NoError(t, firstTab.Close())
	readPresence(t, secondTab, bob.ID)
	assert.Equal(t, 1, env.srv.Hub().Registry().Len())

	resp, err = env.client.R().
		SetAuthToken(alice.Token).
		SetMultipartFormData(map[string]string{"receiverId": bob.ID, "text": "still here?"}).
		Post("/api/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())

	msg = decodeMessage(t, readUntil(t, secondTab, hub.EventReceiveMessage))
	assert.Equal(t, "still here?", *msg.Text)
}

func TestUnboundAndQueryBoundSockets(t *testing.T) {
	env := startServer(t, openStore(t))

	anon := env.dial(t, "")
	readPresence(t, anon)

	carol := env.dial(t, "userId=carol")
	readPresence(t, anon, "carol")
	readPresence(t, carol, "carol")

	// A bad token falls back to the userId parameter.
	dave := env.dial(t, "access_token=garbage&userId=dave")
	readPresence(t, dave, "carol", "dave")

	require.NoError(t, anon.WriteJSON(map[string]any{
		"type":    hub.FrameSendMessage,
		"payload": map[string]string{"receiverId": "carol", "text": "hello"},
	}))
	ev := readUntil(t, anon, hub.EventError)
	var p hub.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, "connection is not bound to a user", p.Message)
}

func TestSocketSendToUnknownReceiver(t *testing.T) {
	env := startServer(t, openStore(t))
	alice := env.signup(t, "Alice")

	conn := env.dial(t, "access_token="+alice.Token)
	readPresence(t, conn, alice.ID)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    hub.FrameSendMessage,
		"payload": map[string]string{"receiverId": "nobody", "text": "hello?"},
	}))
	ev := readUntil(t, conn, hub.EventError)
	var p hub.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, "message could not be saved", p.Message)
}

func TestWebSocketOriginPolicy(t *testing.T) {
	env := startServer(t, openStore(t))

	for _, origin := range []string{"", "http://evil.example.com", "not-a-url"} {
		_, err := env.tryDial("", origin)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake, "origin %q", origin)
	}

	conn, err := env.tryDial("", strings.ToUpper(testOrigin))
	require.NoError(t, err)
	_ = conn.Close()
}

func TestCORSPreflight(t *testing.T) {
	env := startServer(t, openStore(t))

	resp, err := env.client.R().
		SetHeader("Origin", testOrigin).
		SetHeader("Access-Control-Request-Method", http.MethodPost).
		SetHeader("Access-Control-Request-Headers", "Authorization").
		Options("/api/messages")
	require.NoError(t, err)
	assert.Equal(t, testOrigin, resp.Header().Get("Access-Control-Allow-Origin"))

	resp, err = env.client.R().
		SetHeader("Origin", "http://evil.example.com").
		SetHeader("Access-Control-Request-Method", http.MethodPost).
		Options("/api/messages")
	require.NoError(t, err)
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMethodChecks(t *testing.T) {
	env := startServer(t, openStore(t))

	resp, err := env.client.R().Get("/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "running")

	resp, err = env.client.R().Post("/ws")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode())

	resp, err = env.client.R().Get("/test")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "SendMessage")
}

func TestNewServerAcceptsSocketsWithoutExtraSetup(t *testing.T) {
	srv, err := server.New(testConfig(t), openStore(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	c := hub.NewClient(nil, srv.Hub(), "local", "alice")
	registered := make(chan bool, 1)
	go func() { registered <- srv.Hub().Register(c) }()

	select {
	case ok := <-registered:
		require.True(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("Register blocked on a freshly built server")
	}

	require.Eventually(t, func() bool {
		h, ok := srv.Hub().Registry().LookupHandle("alice")
		return ok && h == c.Handle()
	}, waitTimeout, 10*time.Millisecond)
}

func TestShutdownClosesSockets(t *testing.T) {
	env := startServer(t, openStore(t))

	conn := env.dial(t, "userId=alice")
	readPresence(t, conn, "alice")

	ctx := t.Context()
	require.NoError(t, env.srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "socket should be closed by the server, got %v", err)
			break
		}
	}
	assert.Equal(t, 0, env.srv.Hub().Registry().Len())
}
