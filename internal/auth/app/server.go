package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	httpapi "github.com/driftlock/driftlock/internal/auth/api/http"
	"github.com/driftlock/driftlock/internal/auth/passkey"
	"github.com/driftlock/driftlock/internal/auth/service"
	authsqlite "github.com/driftlock/driftlock/internal/auth/storage/sqlite"
	"github.com/driftlock/driftlock/internal/auth/token"
	"github.com/driftlock/driftlock/internal/auth/totp"
	"github.com/driftlock/driftlock/internal/platform/logging"
	platformotel "github.com/driftlock/driftlock/internal/platform/otel"
)

// Server hosts the auth HTTP API.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	logger     *slog.Logger
}

// New creates a configured auth server listening on the provided address.
func New(addr string) (*Server, error) {
	logger := logging.New("driftlock")

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	tokenConfig, err := token.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	svc, err := service.NewAuthService(
		store,
		passkey.LoadConfigFromEnv(),
		totp.LoadConfigFromEnv(),
		tokenConfig,
		logger,
	)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build auth service: %w", err)
	}

	mux := http.NewServeMux()
	httpapi.NewServer(svc, logger).RegisterRoutes(mux)

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:  store,
		logger: logger,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the server until the context ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	otelShutdown, err := platformotel.Setup(ctx, "driftlock")
	if err != nil {
		s.logger.Warn("otel setup failed", "error", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	s.logger.Info("auth server listening", "addr", s.listener.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, addr string) error {
	server, err := New(addr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

func openStore() (*authsqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("DRIFTLOCK_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "driftlock.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close store failed", "error", err)
	}
}
