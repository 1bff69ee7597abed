package database

import "time"

type User struct {
	Id           int64
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ChatEntry struct {
	Message string `json:"message"`
	From    string `json:"from"`
	Ts      int64  `json:"ts"`
}

type Session struct {
	SessionId   string
	Code        string
	Language    string
	ChatHistory []ChatEntry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateSessionParams struct {
	SessionId string
	Code      string
	Language  string
}

type UpdateSessionParams struct {
	SessionId   string
	Code        string
	Language    string
	ChatHistory []ChatEntry
}
