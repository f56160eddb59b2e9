// Package server собирает relay-сервер: хранилище, маршруты, middleware
// и фоновую очистку токенов.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/ledgersync/internal/config"
	"github.com/iudanet/ledgersync/internal/server/handlers"
	"github.com/iudanet/ledgersync/internal/server/jwt"
	"github.com/iudanet/ledgersync/internal/server/metrics"
	"github.com/iudanet/ledgersync/internal/server/middleware"
	"github.com/iudanet/ledgersync/internal/server/storage/sqlite"
)

// Server relay-сервер синхронизации
type Server struct {
	cfg     config.Relay
	logger  *slog.Logger
	clock   clockwork.Clock
	storage *sqlite.Storage
	tokens  *jwt.Service
	handler http.Handler
}

// New открывает хранилище и собирает обработчики
func New(ctx context.Context, cfg config.Relay, logger *slog.Logger, version string) (*Server, error) {
	store, err := sqlite.New(ctx, cfg.DBPath, sqlite.WithMerkleCacheSize(cfg.MerkleCacheSize))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		clock:   clockwork.NewRealClock(),
		storage: store,
		tokens:  jwt.NewService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
	}
	s.handler = s.routes(version)

	return s, nil
}

// Handler возвращает корневой обработчик со всеми middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(version string) http.Handler {
	authHandler := handlers.NewAuthHandler(s.logger, s.storage, s.storage, s.tokens)
	fileHandler := handlers.NewFileHandler(s.logger, s.storage)
	syncHandler := handlers.NewSyncHandler(s.logger, s.storage, s.storage, s.cfg.MaxSyncBody)
	healthHandler := handlers.NewHealthHandler(s.logger, s.storage, version)

	auth := middleware.AuthMiddleware(s.logger, s.tokens)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("GET /api/v1/auth/salt/{username}", authHandler.GetSalt)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.Refresh)
	mux.Handle("POST /api/v1/auth/logout", auth(http.HandlerFunc(authHandler.Logout)))

	mux.Handle("POST /files", auth(http.HandlerFunc(fileHandler.Create)))
	mux.Handle("GET /files", auth(http.HandlerFunc(fileHandler.List)))
	mux.Handle("POST /user-get-key", auth(http.HandlerFunc(fileHandler.GetKey)))
	mux.Handle("POST /user-create-key", auth(http.HandlerFunc(fileHandler.CreateKey)))
	mux.Handle("POST /reset-user-file", auth(http.HandlerFunc(fileHandler.Reset)))
	mux.Handle("POST /sync", auth(http.HandlerFunc(syncHandler.Sync)))

	rl := s.cfg.RateLimit
	authLimits := []middleware.PathRateLimit{
		{Path: "/api/v1/auth/login", Requests: rl.AuthRequests, Window: rl.Window},
		{Path: "/api/v1/auth/register", Requests: rl.AuthRequests, Window: rl.Window},
	}

	// metrics.Middleware ближе всех к mux: шаблон маршрута известен только после него
	var h http.Handler = metrics.Middleware(mux)
	h = middleware.RateLimitMiddleware(s.logger, rl.Requests, rl.Window, authLimits...)(h)
	h = middleware.LoggingMiddleware(s.logger, "/health", "/metrics")(h)
	h = middleware.RecoveryMiddleware(s.logger)(h)

	return h
}

// Run обслуживает запросы на ln до отмены ctx, затем корректно
// завершает соединения за cfg.ShutdownTimeout
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Relay server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		s.logger.Info("Shutting down relay server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.cleanupTokens(ctx)
		return nil
	})

	return g.Wait()
}

// ListenAndRun слушает cfg.ListenAddr и вызывает Run
func (s *Server) ListenAndRun(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Run(ctx, ln)
}

// cleanupTokens периодически удаляет истекшие refresh tokens
func (s *Server) cleanupTokens(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.TokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			deleted, err := s.storage.DeleteExpiredTokens(ctx, s.clock.Now())
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("Failed to delete expired tokens", "error", err)
				}
				continue
			}
			if deleted > 0 {
				s.logger.Info("Expired refresh tokens deleted", "count", deleted)
			}
		}
	}
}

// Close закрывает хранилище
func (s *Server) Close() error {
	return s.storage.Close()
}
