package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shieldd/internal/logging"
)

// Handler processes a single request message and returns the response.
type Handler interface {
	Handle(ctx context.Context, msg *Message) *Message
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	MaxConnections int
	// OnShutdown is invoked when a client sends MsgShutdown.
	OnShutdown func()
}

// Server accepts control connections on a unix domain socket.
type Server struct {
	cfg      ServerConfig
	handler  Handler
	log      *logging.Logger
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates an IPC server. Call Serve to start accepting.
func NewServer(cfg ServerConfig, handler Handler, log *logging.Logger) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("ipc: socket path required")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Serve listens on the socket and handles connections until ctx is
// cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	// Remove a stale socket from a previous run.
	if err := removeStaleSocket(s.cfg.SocketPath); err != nil {
		return err
	}

	listener, err := listen(s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("ipc server listening", "socket", s.cfg.SocketPath)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		if !s.track(conn) {
			s.log.Warn("connection limit reached, rejecting client")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// track registers a connection, enforcing the connection limit.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.conns) >= s.cfg.MaxConnections {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrack(conn)

	if err := checkPeer(conn); err != nil {
		s.log.Warn("rejecting peer", "error", err)
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		msg, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("read message failed", "error", err)
			}
			return
		}

		if msg.Header.Type == MsgShutdown {
			s.log.Info("shutdown requested over ipc")
			resp := NewMessage(MsgPong, msg.Header.RequestID, nil)
			resp.Write(conn)
			if s.cfg.OnShutdown != nil {
				go s.cfg.OnShutdown()
			}
			return
		}

		resp := s.handler.Handle(ctx, msg)
		if resp == nil {
			resp = ErrorMessage(msg.Header.RequestID, "internal", "no response from handler")
		}
		conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if err := resp.Write(conn); err != nil {
			s.log.Debug("write response failed", "error", err)
			return
		}
	}
}

// Close stops the listener and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.cfg.SocketPath)
	return err
}

// ErrorMessage builds an error response.
func ErrorMessage(requestID uint32, code, message string) *Message {
	msg, _ := Marshal(MsgError, requestID, ErrorPayload{Code: code, Message: message})
	return msg
}

func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// If something answers, another daemon owns the socket.
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use by another daemon", path)
	}
	return os.Remove(path)
}
