package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tryhardly/apiserver/config"
	"github.com/tryhardly/apiserver/internal/auth"
	"github.com/tryhardly/apiserver/internal/db"
	"github.com/tryhardly/apiserver/internal/handlers"
	"github.com/tryhardly/apiserver/internal/services"
	"github.com/tryhardly/apiserver/internal/store"
	"github.com/tryhardly/apiserver/internal/store/memory"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	logger     *slog.Logger
}

// New constructs a Server from cfg. The postgres store driver opens a
// database connection that Shutdown closes.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		users  services.UserRepository
		dbConn *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		users = memory.NewUserRepository()
	case config.StoreDriverPostgres, "":
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		dbConn = conn
		users = store.NewUserRepository(dbConn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	router, err := NewRouter(cfg, users, logger)
	if err != nil {
		if dbConn != nil {
			_ = dbConn.Close()
		}
		return nil, err
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 4000
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		logger:     logger,
	}, nil
}

// NewRouter wires the auth stack on top of users and returns the full route
// tree.
func NewRouter(cfg config.Config, users services.UserRepository, logger *slog.Logger) (*chi.Mux, error) {
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), auth.WithIssuer(cfg.Auth.JWTIssuer))
	if err != nil {
		return nil, err
	}

	hasher := auth.NewArgon2idHasher(auth.Argon2Params{
		Time:      cfg.Auth.Argon2Time,
		MemoryKiB: cfg.Auth.Argon2MemoryKiB,
		Threads:   cfg.Auth.Argon2Threads,
	})
	pool := auth.NewHashPool(hasher, cfg.Auth.HashWorkers)

	authService := services.NewAuthService(users, pool, tokens, cfg.Auth.TokenTTL, logger)
	userService := services.NewUserService(users)
	authHandler := handlers.NewAuthHandler(authService, userService, logger)
	authMiddleware := handlers.RequireAuth(tokens, logger)

	startedAt := time.Now()
	healthz := handlers.Healthz(cfg.Env, startedAt)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.Recoverer(logger, cfg.Development()),
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.NotFound)

	router.Get("/", handlers.Root)
	router.Get("/healthz", healthz)
	router.Get("/health", healthz)
	router.Handle("/metrics", promhttp.Handler())

	mountAuth := func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, authMiddleware)
	}
	router.Route("/auth", mountAuth)
	router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthz)
		r.Route("/auth", mountAuth)
	})

	return router, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires, then closes the
// database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
