// Package server implements the listener/supervisor (C9): binds the
// coordinator's TCP socket, spawns one session per accepted connection,
// and owns graceful shutdown, per spec.md 4.9.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clusterops/powerbalance/internal/coordinator"
	"github.com/clusterops/powerbalance/internal/session"
)

// Server owns the listening socket and the set of in-flight sessions.
type Server struct {
	ln     net.Listener
	cs     *coordinator.ClusterState
	logger *zerolog.Logger
	wg     sync.WaitGroup
}

// Listen binds (host, port) and returns a Server ready to Serve.
func Listen(host string, port int, cs *coordinator.ClusterState, logger *zerolog.Logger) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listening on %s: %w", addr, err)
	}
	return &Server{ln: ln, cs: cs, logger: logger}, nil
}

// Addr returns the bound address, useful when port 0 was requested.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accepted connection becomes one session goroutine, bound
// to ctx so shutdown cancels every in-flight session's blocking reads
// are unblocked by closing the connection directly (net.Conn Close,
// triggered by ctx.Done via a watcher goroutine per connection).
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn().Err(err).Msg("server: accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			watchShutdown(ctx, conn)
			session.Run(ctx, conn, s.cs, s.logger)
		}()
	}
}

// watchShutdown closes conn as soon as ctx is cancelled, unblocking any
// in-progress blocking read in session.Run. It returns immediately; the
// actual close happens on a background goroutine for the lifetime of
// the connection.
func watchShutdown(ctx context.Context, conn net.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
}

// Shutdown stops accepting and waits for in-flight sessions to exit.
// Callers should cancel the context passed to Serve before calling
// Shutdown so in-flight sessions unwind promptly.
func (s *Server) Shutdown() {
	s.ln.Close()
	s.wg.Wait()
}
