// Package rpcserver exposes an internal/pipeline.Pipeline over a Unix
// domain socket using the length-prefixed JSON framing in
// internal/protocol/wire.go.
//
// The per-connection-goroutine-plus-per-request-goroutine shape
// generalizes the teacher's internal/supervisor subprocess lifecycle (one
// goroutine reading stdout, one watching for exit, one serializing
// writes) to a socket server: one goroutine reads frames off a
// connection, one goroutine per request handles it concurrently, and a
// single writer goroutine per connection serializes responses back onto
// the wire.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/jjgarcianorway/anna/internal/pipeline"
	"github.com/jjgarcianorway/anna/internal/protocol"
)

// Server accepts connections on a Unix socket and dispatches every framed
// Request it reads to a Pipeline.
type Server struct {
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopping bool
}

// New builds a Server. socketPath is removed first if a stale socket file
// is left over from an unclean shutdown.
func New(pl *pipeline.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Pipeline: pl,
		Logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Listen binds socketPath, removing a stale socket file first, and sets
// its permissions to 0600 (owner-only), per spec.md §6.
func (s *Server) Listen(socketPath string) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("rpcserver: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("rpcserver: listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("rpcserver: chmod socket: %w", err)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until the listener is closed by Stop,
// blocking the calling goroutine. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("rpcserver: Listen must be called before Serve")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				return nil
			}
			return fmt.Errorf("rpcserver: accept: %w", err)
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Stop closes the listener and every open connection, then waits for all
// in-flight connection handlers to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopping = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	writeMu := &sync.Mutex{}
	var reqWG sync.WaitGroup
	defer reqWG.Wait()

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			resp := protocol.NewErrorResponse("", protocol.ErrCodeInvalidRequest, "malformed request envelope: "+err.Error())
			writeResponse(writeMu, conn, resp, s.Logger)
			continue
		}

		reqWG.Add(1)
		go func(req protocol.Request) {
			defer reqWG.Done()
			resp := s.Pipeline.Handle(ctx, req)
			writeResponse(writeMu, conn, resp, s.Logger)
		}(req)
	}
}

func writeResponse(writeMu *sync.Mutex, conn net.Conn, resp protocol.Response, logger *slog.Logger) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("rpcserver: marshal response", "error", err)
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.WriteFrame(conn, data); err != nil {
		logger.Warn("rpcserver: write response", "error", err)
	}
}
