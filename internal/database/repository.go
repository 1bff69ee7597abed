package database

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Repository stores accounts and the code/chat snapshot of each room.
// It is never called from the realtime hub.
type Repository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int64) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	CreateSession(ctx context.Context, params CreateSessionParams) (Session, error)
	GetSession(ctx context.Context, sessionId string) (Session, error)
	UpdateSession(ctx context.Context, params UpdateSessionParams) (Session, error)
	Close() error
}
