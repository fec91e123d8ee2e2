package stampline

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

const maxAcceptDelay = time.Second

// Handler is the interface for handling incoming TCP connections.
// Implementations should handle the connection lifecycle and message processing.
type Handler interface {
	// Handle is called for each new connection on its own goroutine.
	// The implementation is responsible for closing the connection.
	Handle(conn *net.TCPConn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(conn *net.TCPConn)

// Handle calls f(conn).
func (f HandlerFunc) Handle(conn *net.TCPConn) { f(conn) }

// Server represents a TCP server that listens for incoming connections.
type Server struct {
	listener *net.TCPListener
	logger   Logger

	mu        sync.Mutex
	shutdown  bool
	closeOnce sync.Once
	closeErr  error

	handlers errgroup.Group
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new TCP server bound to cfg.Addr() with address reuse enabled
// and a listen backlog of cfg.Backlog.
// Returns an error if the configuration is invalid or the address cannot be bound.
func New(cfg Config, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr())
	if err != nil {
		return nil, errors.Wrap(err, "resolve listen address")
	}

	listener, err := listenTCP(addr, cfg.Backlog)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	s := &Server{
		listener: listener,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and runs handler.Handle for each on a new goroutine.
// Accepting never waits for a handler.
//
// It blocks until the context is canceled or Close is called. Either way the
// listener is closed first, so no new connections are accepted, and Serve then
// waits for the handlers already dispatched to finish on their own. It returns
// ctx.Err() after cancellation and ErrServerClosed after Close.
// Accept errors other than closure are logged and retried with a capped backoff.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("graceful shutdown initiated")
			s.closeListener()
		case <-stop:
		}
	}()

	var delay time.Duration
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isShutdown() {
				s.logger.Info("waiting for in-flight connections")
				_ = s.handlers.Wait()
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrServerClosed
			}

			if errors.Is(err, net.ErrClosed) {
				_ = s.handlers.Wait()
				return err
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logger.Warn("accept error, retrying", "error", err, "delay", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)
		s.handlers.Go(func() error {
			handler.Handle(conn)
			return nil
		})
	}
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) closeListener() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.closeErr = s.listener.Close()
	})
	return s.closeErr
}

// Close stops accepting by closing the listener. In-flight handlers are not
// interrupted. Safe to call multiple times.
func (s *Server) Close() error {
	return s.closeListener()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
