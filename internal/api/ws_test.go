package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/devpair/internal/database"
	"github.com/npezzotti/devpair/internal/server"
	"github.com/npezzotti/devpair/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func startTestServer(t *testing.T) (*DevPairApp, string) {
	t.Helper()

	app := newTestApp(t, &database.MockRepository{}, nil)
	go app.hub.Run()

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		app.hub.Shutdown(ctx)
		srv.Close()
	})

	return app, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestServeWs_Rejected(t *testing.T) {
	tcases := []struct {
		name   string
		query  string
		reason string
	}{
		{name: "no token", query: "", reason: "authentication error: no token"},
		{name: "invalid token", query: "?token=garbage", reason: "authentication error: invalid token"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, url := startTestServer(t)

			conn, _, err := websocket.DefaultDialer.Dial(url+tc.query, nil)
			require.NoError(t, err, "expected upgrade to succeed before authentication")
			defer conn.Close()

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var frame wsFrame
			require.NoError(t, conn.ReadJSON(&frame))
			assert.Equal(t, server.EventAuthError, frame.Event)
			assert.Equal(t, tc.reason, frame.Data)

			_, _, err = conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "expected policy violation close, got %v", err)
		})
	}
}

func TestServeWs_Authenticated(t *testing.T) {
	app, url := startTestServer(t)

	dial := func(user types.User) *websocket.Conn {
		token, err := app.tokens.Issue(user, time.Hour)
		require.NoError(t, err)

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	readEvent := func(conn *websocket.Conn, event string) wsFrame {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var frame wsFrame
			require.NoError(t, conn.ReadJSON(&frame), "expected %q", event)
			if frame.Event == event {
				return frame
			}
		}
	}

	alice := dial(types.User{Id: "1", Username: "alice"})
	bob := dial(types.User{Id: "2", Username: "bob"})

	require.NoError(t, alice.WriteJSON(map[string]any{"event": server.EventJoinRoom, "data": "R"}))
	readEvent(alice, server.EventRoomUsers)
	require.NoError(t, bob.WriteJSON(map[string]any{"event": server.EventJoinRoom, "data": "R"}))
	readEvent(bob, server.EventRoomUsers)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"event": server.EventCodeChange,
		"data":  map[string]any{"roomId": "R", "code": "fmt.Println(1)"},
	}))
	update := readEvent(bob, server.EventCodeUpdate)
	assert.Equal(t, "fmt.Println(1)", update.Data)

	require.NoError(t, alice.WriteJSON(map[string]any{
		"event": server.EventChatMessage,
		"data":  map[string]any{"roomId": "R", "message": "hi"},
	}))
	chat := readEvent(bob, server.EventChatMessage)
	assert.Equal(t, "alice", chat.Data.(map[string]any)["from"], "expected the verified username")
}
