package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultLanguage = "javascript"

const (
	createAccountQuery = "INSERT INTO accounts (username, email, password_hash, created_at, updated_at) " +
		"VALUES (?, ?, ?, ?, ?) ON CONFLICT (email) DO NOTHING " +
		"RETURNING id, username, email, password_hash, created_at, updated_at"
	getAccountByIdQuery = "SELECT id, username, email, password_hash, created_at, updated_at " +
		"FROM accounts WHERE id = ? LIMIT 1"
	getAccountByEmailQuery = "SELECT id, username, email, password_hash, created_at, updated_at " +
		"FROM accounts WHERE email = ? LIMIT 1"
	createSessionQuery = "INSERT INTO sessions (session_id, code, language, chat_history, created_at, updated_at) " +
		"VALUES (?, ?, ?, '[]', ?, ?) ON CONFLICT (session_id) DO NOTHING " +
		"RETURNING session_id, code, language, chat_history, created_at, updated_at"
	getSessionQuery = "SELECT session_id, code, language, chat_history, created_at, updated_at " +
		"FROM sessions WHERE session_id = ? LIMIT 1"
	updateSessionQuery = "UPDATE sessions SET code = ?, chat_history = ?, " +
		"language = COALESCE(NULLIF(?, ''), language), updated_at = ? WHERE session_id = ? " +
		"RETURNING session_id, code, language, chat_history, created_at, updated_at"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLRepository implements Repository on top of database/sql for both
// postgres and sqlite. Queries are written with '?' placeholders and
// rebound for postgres.
type SQLRepository struct {
	conn    *sql.DB
	dialect dialect
}

func NewPgRepository(dsn string) (*SQLRepository, error) {
	if err := migrateUp("postgres", dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLRepository{conn: db, dialect: dialectPostgres}, nil
}

func NewSQLiteRepository(path string) (*SQLRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	if err := migrateUp("sqlite", path); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// a single writer avoids SQLITE_BUSY under concurrent handlers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	return &SQLRepository{conn: db, dialect: dialectSQLite}, nil
}

func (db *SQLRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *SQLRepository) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}

	var (
		sb strings.Builder
		n  int
	)
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}

	return sb.String()
}

func (db *SQLRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC().UnixMilli()
	row := db.conn.QueryRowContext(ctx, db.rebind(createAccountQuery),
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrConflict
	}

	return u, err
}

func (db *SQLRepository) GetAccountById(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, db.rebind(getAccountByIdQuery), id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	return u, err
}

func (db *SQLRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, db.rebind(getAccountByEmailQuery), email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	return u, err
}

func (db *SQLRepository) CreateSession(ctx context.Context, params CreateSessionParams) (Session, error) {
	language := params.Language
	if language == "" {
		language = defaultLanguage
	}

	now := time.Now().UTC().UnixMilli()
	row := db.conn.QueryRowContext(ctx, db.rebind(createSessionQuery),
		params.SessionId,
		params.Code,
		language,
		now,
		now,
	)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrConflict
	}

	return s, err
}

func (db *SQLRepository) GetSession(ctx context.Context, sessionId string) (Session, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx, db.rebind(getSessionQuery), sessionId))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}

	return s, err
}

func (db *SQLRepository) UpdateSession(ctx context.Context, params UpdateSessionParams) (Session, error) {
	history := params.ChatHistory
	if history == nil {
		history = []ChatEntry{}
	}

	raw, err := json.Marshal(history)
	if err != nil {
		return Session{}, fmt.Errorf("encode chat history: %w", err)
	}

	row := db.conn.QueryRowContext(ctx, db.rebind(updateSessionQuery),
		params.Code,
		string(raw),
		params.Language,
		time.Now().UTC().UnixMilli(),
		params.SessionId,
	)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}

	return s, err
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u                    User
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return User{}, err
	}

	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return u, nil
}

func scanSession(row *sql.Row) (Session, error) {
	var (
		s                    Session
		history              string
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&s.SessionId,
		&s.Code,
		&s.Language,
		&history,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Session{}, err
	}

	if err := json.Unmarshal([]byte(history), &s.ChatHistory); err != nil {
		return Session{}, fmt.Errorf("decode chat history: %w", err)
	}

	s.CreatedAt = time.UnixMilli(createdAt).UTC()
	s.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return s, nil
}
