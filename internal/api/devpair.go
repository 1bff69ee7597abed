package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/devpair/internal/auth"
	"github.com/npezzotti/devpair/internal/config"
	"github.com/npezzotti/devpair/internal/database"
	"github.com/npezzotti/devpair/internal/executor"
	"github.com/npezzotti/devpair/internal/server"
	"github.com/npezzotti/devpair/internal/stats"
)

type DevPairApp struct {
	log            *log.Logger
	db             database.Repository
	srv            *http.Server
	hub            *server.Hub
	exec           executor.Executor
	stats          stats.StatsProvider
	tokens         *auth.TokenManager
	allowedOrigins []string
}

func NewDevPairApp(mux *http.ServeMux, logger *log.Logger, hub *server.Hub, db database.Repository,
	exec executor.Executor, su stats.StatsProvider, cfg *config.Config) *DevPairApp {
	s := &DevPairApp{
		log:            logger,
		db:             db,
		hub:            hub,
		exec:           exec,
		stats:          su,
		tokens:         auth.NewTokenManager(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
	}

	su.RegisterMetric(stats.RejectedHandshakes)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.logout)
	mux.HandleFunc("POST /api/sessions", s.authMiddleware(s.createSession))
	mux.HandleFunc("GET /api/sessions/{id}", s.authMiddleware(s.getSession))
	mux.HandleFunc("PUT /api/sessions/{id}", s.authMiddleware(s.updateSession))
	mux.HandleFunc("POST /api/execute", s.authMiddleware(s.execute))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *DevPairApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *DevPairApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *DevPairApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
