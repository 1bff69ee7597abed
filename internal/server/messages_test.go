package server

import (
	"encoding/json"
	"testing"

	"github.com/npezzotti/devpair/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseRoomId(t *testing.T) {
	tcases := []struct {
		name     string
		data     json.RawMessage
		expected string
		err      bool
	}{
		{name: "plain", data: json.RawMessage(`"room-1"`), expected: "room-1"},
		{name: "trimmed", data: json.RawMessage(`"  room-1 "`), expected: "room-1"},
		{name: "blank", data: json.RawMessage(`"  "`), err: true},
		{name: "missing", data: nil, err: true},
		{name: "not a string", data: json.RawMessage(`{"roomId":"x"}`), err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			roomId, err := parseRoomId(tc.data)
			if tc.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, roomId)
		})
	}
}

func TestServerMessage_JSON(t *testing.T) {
	tcases := []struct {
		name     string
		msg      *ServerMessage
		expected string
	}{
		{
			name:     "ack",
			msg:      Ack(3),
			expected: `{"event":"ack","ack":3}`,
		},
		{
			name:     "heartbeat",
			msg:      Heartbeat(),
			expected: `{"event":"heartbeat"}`,
		},
		{
			name:     "empty room users",
			msg:      RoomUsers([]types.PresenceUser{}),
			expected: `{"event":"room-users","data":[]}`,
		},
		{
			name:     "user left",
			msg:      UserLeftRoom(types.LeaveEvent{UserId: "u1", Username: "A", LeftAt: 5}, &Client{}),
			expected: `{"event":"user-left-room","data":{"userId":"u1","username":"A","leftAt":5}}`,
		},
		{
			name:     "code update passes raw value",
			msg:      CodeUpdate(json.RawMessage(`{"a":[1,2]}`), nil),
			expected: `{"event":"code-update","data":{"a":[1,2]}}`,
		},
		{
			name:     "code update without code",
			msg:      CodeUpdate(nil, nil),
			expected: `{"event":"code-update","data":null}`,
		},
		{
			name:     "auth error",
			msg:      AuthError("invalid token"),
			expected: `{"event":"auth-error","data":"invalid token"}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.expected, string(b))
		})
	}
}

func TestClientMessage_Unmarshal(t *testing.T) {
	var msg ClientMessage
	err := json.Unmarshal([]byte(`{"event":"leave-room","data":"R","ack":12}`), &msg)
	require.NoError(t, err)

	assert.Equal(t, EventLeaveRoom, msg.Event)
	require.NotNil(t, msg.Ack)
	assert.Equal(t, 12, *msg.Ack)

	roomId, err := parseRoomId(msg.Data)
	assert.NoError(t, err)
	assert.Equal(t, "R", roomId)
}
