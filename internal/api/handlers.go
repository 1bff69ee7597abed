package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/devpair/internal/auth"
	"github.com/npezzotti/devpair/internal/database"
	"github.com/npezzotti/devpair/internal/executor"
	"github.com/npezzotti/devpair/internal/server"
	"github.com/npezzotti/devpair/internal/stats"
	"github.com/npezzotti/devpair/internal/types"
	"github.com/teris-io/shortid"
)

type CreateSessionRequest struct {
	SessionId string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type UpdateSessionRequest struct {
	Code        string              `json:"code"`
	Language    string              `json:"language"`
	ChatHistory []types.ChatMessage `json:"chatHistory"`
}

type ExecuteRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (s *DevPairApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *DevPairApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Println("health check:", err)
		http.Error(w, "database unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func toSession(s database.Session) types.Session {
	history := make([]types.ChatMessage, len(s.ChatHistory))
	for i, e := range s.ChatHistory {
		history[i] = types.ChatMessage{Message: e.Message, From: e.From, Ts: e.Ts}
	}

	return types.Session{
		SessionId:   s.SessionId,
		Code:        s.Code,
		Language:    s.Language,
		ChatHistory: history,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (s *DevPairApp) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sessionId := strings.TrimSpace(req.SessionId)
	if sessionId == "" {
		sid, err := shortid.Generate()
		if err != nil {
			s.log.Print("generate session id:", err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		sessionId = sid
	}

	session, err := s.db.CreateSession(r.Context(), database.CreateSessionParams{
		SessionId: sessionId,
		Code:      req.Code,
		Language:  req.Language,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrConflict) {
			errResp = NewConflictError("room already exists")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toSession(session))
}

func (s *DevPairApp) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.db.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toSession(session))
}

func (s *DevPairApp) updateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	history := make([]database.ChatEntry, len(req.ChatHistory))
	for i, m := range req.ChatHistory {
		history[i] = database.ChatEntry{Message: m.Message, From: m.From, Ts: m.Ts}
	}

	session, err := s.db.UpdateSession(r.Context(), database.UpdateSessionParams{
		SessionId:   r.PathValue("id"),
		Code:        req.Code,
		Language:    req.Language,
		ChatHistory: history,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toSession(session))
}

func (s *DevPairApp) execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Language == "" || req.Code == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	res, err := s.exec.Execute(r.Context(), req.Language, req.Code)
	if err != nil {
		s.log.Println("execute:", err)
		var errResp *ApiError
		if errors.Is(err, executor.ErrUnsupportedLanguage) {
			errResp = NewBadRequestError()
			errResp.Message = err.Error()
		} else {
			errResp = NewBadGatewayError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, res)
}

func (s *DevPairApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// serveWs upgrades before verifying the credential so a rejected client
// receives an auth-error event ahead of the close frame.
func (s *DevPairApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	user, err := s.tokens.Verify(tokenFromRequest(r))
	if err != nil {
		s.log.Printf("rejecting websocket from %s: %v", r.RemoteAddr, err)
		s.stats.Incr(stats.RejectedHandshakes)
		s.rejectConn(conn, err)
		return
	}

	client := server.NewClient(user, conn, s.hub, s.log)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func (s *DevPairApp) rejectConn(conn *websocket.Conn, err error) {
	defer conn.Close()

	reason := "authentication error: invalid token"
	if errors.Is(err, auth.ErrNoToken) {
		reason = "authentication error: no token"
	}

	deadline := time.Now().Add(time.Second)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(server.AuthError(reason)); err != nil {
		s.log.Println("write auth error:", err)
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
}
