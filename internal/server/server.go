// Package server binds the gateway's HTTP surface to a listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/yeah705-lgtm/ccs-sub003/internal/handlers"
	"github.com/yeah705-lgtm/ccs-sub003/internal/middleware"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Host        string
	Port        int
	ProfileName string
	APIKey      string
	Proxy       handlers.ProxyOptions
}

type Server struct {
	opts     Options
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func New(opts Options, logger *slog.Logger) *Server {
	return &Server{
		opts:   opts,
		logger: logger,
	}
}

// Start binds the listener and serves in the background. Port 0 picks a free
// port; Addr reports the bound address.
func (s *Server) Start() error {
	if s.server != nil {
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting server", "address", listener.Addr().String(), "profile", s.opts.ProfileName)

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}

	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}

	return 0
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if err != nil {
		// Streams still open past the deadline are cut.
		_ = s.server.Close()
	}
	<-s.done

	s.logger.Info("Server exited", "address", s.Addr())

	return err
}

// Handler builds the routed handler. It is exported for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Create handlers
	proxyHandler := handlers.NewProxyHandler(s.opts.Proxy, s.logger)
	modelsHandler := handlers.NewModelsHandler(s.opts.Proxy, s.logger)
	healthHandler := handlers.NewHealthHandler(s.opts.ProfileName, s.logger)
	notFound := handlers.NewNotFoundHandler()

	// Setup middleware chains
	middlewareSet := middleware.NewMiddlewareSet(s.opts.APIKey, s.opts.Proxy.Metrics, s.logger)

	// Apply middleware chains to routes
	mux.Handle("GET /health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("GET /metrics", middlewareSet.DefaultChain().Handler(s.opts.Proxy.Metrics.Handler()))
	mux.Handle("GET /v1/models", middlewareSet.DefaultChain().Handler(modelsHandler))
	mux.Handle("POST /v1/messages", middlewareSet.DefaultChain().Handler(proxyHandler))
	mux.Handle("/", middlewareSet.DefaultChain().Handler(notFound))

	return mux
}
