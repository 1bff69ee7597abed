package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/devpair/internal/types"
)

const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventAck               = "ack"
	EventRoomUsers         = "room-users"
	EventUserLeftRoom      = "user-left-room"
	EventCodeChange        = "code-change"
	EventCodeUpdate        = "code-update"
	EventChatMessage       = "chat-message"
	EventHeartbeat         = "heartbeat"
	EventHeartbeatResponse = "heartbeat-response"
	EventAuthError         = "auth-error"
)

var errEmptyRoomId = errors.New("empty room id")

// ClientMessage is a frame received from a connection.
type ClientMessage struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Ack    *int            `json:"ack,omitempty"`
	client *Client         `json:"-"`
}

// ServerMessage is a frame pushed to one or more connections.
type ServerMessage struct {
	Event      string  `json:"event"`
	Data       any     `json:"data,omitempty"`
	Ack        *int    `json:"ack,omitempty"`
	SkipClient *Client `json:"-"`
}

type CodeChange struct {
	RoomId string          `json:"roomId"`
	Code   json.RawMessage `json:"code"`
}

type ChatInput struct {
	RoomId  string `json:"roomId"`
	Message string `json:"message"`
}

// parseRoomId reads a bare room id string from a join or leave payload.
func parseRoomId(data json.RawMessage) (string, error) {
	var roomId string
	if err := json.Unmarshal(data, &roomId); err != nil {
		return "", fmt.Errorf("parse room id: %w", err)
	}

	roomId = strings.TrimSpace(roomId)
	if roomId == "" {
		return "", errEmptyRoomId
	}

	return roomId, nil
}

func RoomUsers(users []types.PresenceUser) *ServerMessage {
	return &ServerMessage{Event: EventRoomUsers, Data: users}
}

func UserLeftRoom(ev types.LeaveEvent, skip *Client) *ServerMessage {
	return &ServerMessage{Event: EventUserLeftRoom, Data: ev, SkipClient: skip}
}

func CodeUpdate(code json.RawMessage, skip *Client) *ServerMessage {
	if code == nil {
		code = json.RawMessage("null")
	}
	return &ServerMessage{Event: EventCodeUpdate, Data: code, SkipClient: skip}
}

func ChatRelay(msg types.ChatMessage, skip *Client) *ServerMessage {
	return &ServerMessage{Event: EventChatMessage, Data: msg, SkipClient: skip}
}

func Ack(id int) *ServerMessage {
	return &ServerMessage{Event: EventAck, Ack: &id}
}

func Heartbeat() *ServerMessage {
	return &ServerMessage{Event: EventHeartbeat}
}

func AuthError(reason string) *ServerMessage {
	return &ServerMessage{Event: EventAuthError, Data: reason}
}
