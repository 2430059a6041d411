package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/dispatch"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/types"
)

// ErrNotListening is returned by Serve before Listen succeeded
var ErrNotListening = errors.New("host: server is not listening")

// Handler receives decoded frames.
// This interface is implemented by the bridge.
type Handler interface {
	// HandleActivity processes one activity record. Records from the same
	// stream share token.
	HandleActivity(ctx context.Context, token dispatch.Token, rec *types.ActivityRecord) error
	// HandleCommand runs a control command and returns the reply detail.
	HandleCommand(ctx context.Context, command string, args []string) (string, error)
}

// Server accepts host connections on a unix socket. Every connection is a
// separate stream with its own dispatch token.
type Server struct {
	mu       sync.Mutex
	path     string
	handler  Handler
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	closed   bool

	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewServer creates a server for the socket at path
func NewServer(path string, handler Handler) *Server {
	return &Server{
		path:    path,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen creates the socket. A stale socket file left by a previous run is
// removed; a socket that still accepts connections is an error.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	if err := removeStaleSocket(s.path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}
	s.listener = ln

	logger.Info("Host socket listening", "path", s.path)
	return nil
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%s is in use by another bridge", path)
	}
	logger.Debug("Removing stale host socket", "path", path)
	return os.Remove(path)
}

// Path returns the socket path
func (s *Server) Path() string {
	return s.path
}

// Serve accepts connections until ctx is done or Shutdown is called
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil || s.closed {
		s.mu.Unlock()
		return ErrNotListening
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("failed to accept host connection: %w", err)
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}

		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	token := dispatch.NewToken()
	logger.Debug("Host connected", "token", token)

	if err := s.ServeStream(ctx, token, conn, conn); err != nil && !s.isClosed() {
		logger.Warn("Host stream failed", "token", token, "error", err)
	}
	logger.Debug("Host disconnected", "token", token)
}

// ServeStream reads frames from r until EOF or ctx is done, writing command
// replies to w. Activity records are handled under token.
func (s *Server) ServeStream(ctx context.Context, token dispatch.Token, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), constants.MaxFrameSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := s.handleLine(ctx, token, line, w); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("frame exceeds %d bytes: %w", constants.MaxFrameSize, err)
		}
		if s.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, token dispatch.Token, line []byte, w io.Writer) error {
	f, err := DecodeFrame(line)
	if err != nil {
		logger.Warn("Discarding host frame", "error", err)
		return nil
	}

	switch f.Type {
	case FrameActivity:
		if err := s.handler.HandleActivity(ctx, token, f.ActivityRecord); err != nil {
			if errors.Is(err, dispatch.ErrClosed) {
				return nil
			}
			logger.Debug("Activity not delivered", "token", token, "error", err)
		}
	case FrameCommand:
		detail, err := s.handler.HandleCommand(ctx, f.Command, f.Args)
		if err != nil {
			logger.Info("Host command failed", "command", f.Command, "error", err)
		}
		if _, werr := io.WriteString(w, formatReply(detail, err)); werr != nil {
			return fmt.Errorf("failed to write reply: %w", werr)
		}
	}
	return nil
}

// Shutdown closes the socket and every open stream, then waits for the
// stream handlers to return
func (s *Server) Shutdown() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			logger.Info("Host socket shutting down", "path", s.path)
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				shutdownErr = err
			}
		}
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return shutdownErr
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}
