// Package server wraps a fiber application as a launcher-managed component
// with graceful shutdown.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/launcher"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	"github.com/gofiber/fiber/v2"
)

// ErrServerRequired is returned when a method is called on a nil Server.
var ErrServerRequired = errors.New("http server is required")

const defaultShutdownTimeout = 10 * time.Second

// Server runs a fiber application for the lifetime of the service.
type Server struct {
	app     *fiber.App
	address string
	logger  log.Logger
}

var _ launcher.App = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger for the server.
func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server listening on address.
func New(app *fiber.App, address string, opts ...Option) (*Server, error) {
	if app == nil {
		return nil, errors.New("fiber app is required")
	}

	if address == "" {
		return nil, errors.New("listen address is required")
	}

	srv := &Server{
		app:     app,
		address: address,
		logger:  log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}

	return srv, nil
}

// Run starts listening and blocks until Shutdown is called.
func (s *Server) Run(*launcher.Launcher) error {
	if s == nil {
		return ErrServerRequired
	}

	s.logger.Log(context.Background(), log.LevelInfo, "http server listening", log.String("address", s.address))

	if err := s.app.Listen(s.address); err != nil {
		return err
	}

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return ErrServerRequired
	}

	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
	}

	return s.app.ShutdownWithContext(ctx)
}
