// Package server wires the chat proxy handler, health and metrics endpoints into one
// HTTP server.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ChatPath is where the proxy endpoint is mounted.
const ChatPath = "/api/claude"

// Options configures a Server.
type Options struct {
	Address         string
	ShutdownTimeout time.Duration
	// Chat serves ChatPath for every method; it handles CORS preflight and method checks itself.
	Chat     http.Handler
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the process HTTP listener.
type Server struct {
	echo            *echo.Echo
	http            *http.Server
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// New builds the router. Nothing listens until Run.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	e.Any(ChatPath, echo.WrapHandler(otelhttp.NewHandler(opts.Chat, "chat-proxy")))

	return &Server{
		echo: e,
		http: &http.Server{
			Addr:              opts.Address,
			Handler:           e,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("chat proxy listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", zap.Duration("timeout", s.shutdownTimeout))
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
