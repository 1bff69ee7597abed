package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/devpair/internal/config"
	"github.com/npezzotti/devpair/internal/database"
	"github.com/npezzotti/devpair/internal/executor"
	"github.com/npezzotti/devpair/internal/server"
	"github.com/npezzotti/devpair/internal/stats"
	"github.com/npezzotti/devpair/internal/testutil"
	"github.com/npezzotti/devpair/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testUser = types.User{Id: "1", Username: "alice"}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, language, code string) (types.ExecutionResult, error) {
	args := m.Called(language, code)
	return args.Get(0).(types.ExecutionResult), args.Error(1)
}

func newTestApp(t *testing.T, db database.Repository, exec executor.Executor) *DevPairApp {
	t.Helper()

	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	hub := server.NewHub(testutil.TestLogger(t), stats.NewNopMock(), server.Options{})

	return NewDevPairApp(http.NewServeMux(), testutil.TestLogger(t), hub, db, exec, stats.NewNopMock(), cfg)
}

func newRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	buf := &bytes.Buffer{}
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}

	return httptest.NewRequest(method, path, buf)
}

func newAuthedRequest(t *testing.T, app *DevPairApp, method, path string, body any) *http.Request {
	t.Helper()

	token, err := app.tokens.Issue(testUser, time.Hour)
	require.NoError(t, err)

	req := newRequest(t, method, path, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serve(app *DevPairApp, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()

	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr), "expected json error body")
	return apiErr
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name     string
		mockErr  error
		expected int
	}{
		{name: "successful health check", expected: http.StatusOK},
		{name: "failed health check", mockErr: errors.New("db error"), expected: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			db.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, db, nil)
			rr := serve(app, newRequest(t, http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.expected, rr.Code)
			if tc.mockErr == nil {
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestCreateSessionHandler(t *testing.T) {
	created := database.Session{
		SessionId:   "room-1",
		Code:        "print(1)",
		Language:    "python3",
		ChatHistory: []database.ChatEntry{},
	}

	t.Run("creates session with given id", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateSession", database.CreateSessionParams{
			SessionId: "room-1",
			Code:      "print(1)",
			Language:  "python3",
		}).Return(created, nil).Once()

		app := newTestApp(t, db, nil)
		rr := serve(app, newAuthedRequest(t, app, http.MethodPost, "/api/sessions", CreateSessionRequest{
			SessionId: "room-1",
			Code:      "print(1)",
			Language:  "python3",
		}))

		require.Equal(t, http.StatusCreated, rr.Code)
		var got types.Session
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "room-1", got.SessionId)
		assert.Equal(t, "python3", got.Language)
		assert.NotNil(t, got.ChatHistory, "expected chat history to be an empty list")
	})

	t.Run("generates an id when none is given", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateSession", mock.MatchedBy(func(p database.CreateSessionParams) bool {
			return p.SessionId != ""
		})).Return(created, nil).Once()

		app := newTestApp(t, db, nil)
		rr := serve(app, newAuthedRequest(t, app, http.MethodPost, "/api/sessions", CreateSessionRequest{Code: "x"}))
		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("conflict on existing room", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateSession", mock.Anything).Return(database.Session{}, database.ErrConflict).Once()

		app := newTestApp(t, db, nil)
		rr := serve(app, newAuthedRequest(t, app, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionId: "room-1"}))
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "room already exists", decodeError(t, rr).Message)
	})

	t.Run("invalid json body", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil)
		rr := serve(app, newAuthedRequest(t, app, http.MethodPost, "/api/sessions", "{"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("requires authentication", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil)
		rr := serve(app, newRequest(t, http.MethodPost, "/api/sessions", CreateSessionRequest{}))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestGetSessionHandler(t *testing.T) {
	tcases := []struct {
		name     string
		session  database.Session
		mockErr  error
		expected int
	}{
		{
			name: "found",
			session: database.Session{
				SessionId:   "room-1",
				Code:        "x",
				Language:    "go",
				ChatHistory: []database.ChatEntry{{Message: "hi", From: "alice", Ts: 1}},
			},
			expected: http.StatusOK,
		},
		{name: "not found", mockErr: database.ErrNotFound, expected: http.StatusNotFound},
		{name: "database error", mockErr: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			db.On("GetSession", "room-1").Return(tc.session, tc.mockErr).Once()

			app := newTestApp(t, db, nil)
			rr := serve(app, newAuthedRequest(t, app, http.MethodGet, "/api/sessions/room-1", nil))
			require.Equal(t, tc.expected, rr.Code)

			if tc.expected == http.StatusOK {
				var got types.Session
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, []types.ChatMessage{{Message: "hi", From: "alice", Ts: 1}}, got.ChatHistory)
			}
		})
	}
}

func TestUpdateSessionHandler(t *testing.T) {
	t.Run("updates code and history", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		params := database.UpdateSessionParams{
			SessionId:   "room-1",
			Code:        "y",
			Language:    "go",
			ChatHistory: []database.ChatEntry{{Message: "hi", From: "alice", Ts: 2}},
		}
		db.On("UpdateSession", params).Return(database.Session{SessionId: "room-1", Code: "y", Language: "go"}, nil).Once()

		app := newTestApp(t, db, nil)
		rr := serve(app, newAuthedRequest(t, app, http.MethodPut, "/api/sessions/room-1", UpdateSessionRequest{
			Code:        "y",
			Language:    "go",
			ChatHistory: []types.ChatMessage{{Message: "hi", From: "alice", Ts: 2}},
		}))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("not found", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("UpdateSession", mock.Anything).Return(database.Session{}, database.ErrNotFound).Once()

		app := newTestApp(t, db, nil)
		rr := serve(app, newAuthedRequest(t, app, http.MethodPut, "/api/sessions/missing", UpdateSessionRequest{Code: "y"}))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestExecuteHandler(t *testing.T) {
	tcases := []struct {
		name     string
		body     any
		result   types.ExecutionResult
		mockErr  error
		mocked   bool
		expected int
	}{
		{
			name:     "successful run",
			body:     ExecuteRequest{Language: "python3", Code: "print(1)"},
			result:   types.ExecutionResult{Output: "1\n"},
			mocked:   true,
			expected: http.StatusOK,
		},
		{
			name:     "missing code",
			body:     ExecuteRequest{Language: "python3"},
			expected: http.StatusBadRequest,
		},
		{
			name:     "invalid json",
			body:     "not json",
			expected: http.StatusBadRequest,
		},
		{
			name:     "unsupported language",
			body:     ExecuteRequest{Language: "cobol", Code: "x"},
			mockErr:  executor.ErrUnsupportedLanguage,
			mocked:   true,
			expected: http.StatusBadRequest,
		},
		{
			name:     "upstream failure",
			body:     ExecuteRequest{Language: "go", Code: "x"},
			mockErr:  executor.ErrExecutionFailed,
			mocked:   true,
			expected: http.StatusBadGateway,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &mockExecutor{}
			defer exec.AssertExpectations(t)
			if req, ok := tc.body.(ExecuteRequest); ok && tc.mocked {
				exec.On("Execute", req.Language, req.Code).Return(tc.result, tc.mockErr).Once()
			}

			app := newTestApp(t, &database.MockRepository{}, exec)
			rr := serve(app, newAuthedRequest(t, app, http.MethodPost, "/api/execute", tc.body))
			require.Equal(t, tc.expected, rr.Code)

			if tc.expected == http.StatusOK {
				var got types.ExecutionResult
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, tc.result, got)
			}
		})
	}
}
