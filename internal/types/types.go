package types

import (
	"time"
)

// User is the identity resolved from a verified credential. It is the only
// identity the server trusts for a connection.
type User struct {
	Id           string    `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// PresenceUser is a single entry of a room-users snapshot.
type PresenceUser struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
}

// LeaveEvent is pushed once when a user's last connection leaves a room.
type LeaveEvent struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	LeftAt   int64  `json:"leftAt"`
}

type ChatMessage struct {
	Message string `json:"message"`
	From    string `json:"from"`
	Ts      int64  `json:"ts"`
}

type Session struct {
	SessionId   string        `json:"sessionId"`
	Code        string        `json:"code"`
	Language    string        `json:"language"`
	ChatHistory []ChatMessage `json:"chatHistory"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type ExecutionResult struct {
	Output   string `json:"output"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// UnixMilli returns t as milliseconds since the epoch, the unit used for
// every timestamp on the event protocol.
func UnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}
