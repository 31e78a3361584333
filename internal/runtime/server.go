package runtime

import (
	"context"
	sterrors "errors"
	"net"

	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	transportapi "github.com/drblury/quicflow/transport"
)

// Server is the listening side of a session. It owns a bound listener and
// the dispatch engine; accepted connections feed inbound messages to the
// bound handlers, and handler replies flow back over the connection they
// arrived on.
type Server struct {
	engine   *Engine
	listener transportapi.Listener
	conf     *SessionConfig
	logger   loggingpkg.ServiceLogger
}

// Start runs the accept loops and the dispatch pipeline. It blocks until
// ctx is cancelled or the pipeline fails; resources stay live across the
// return and are released by the Control's Shutdown.
func (s *Server) Start(ctx context.Context) error {
	return s.engine.run(ctx, s.startAcceptLoops)
}

func (s *Server) startAcceptLoops(ctx context.Context) {
	for i := 0; i < s.conf.AcceptorCount(); i++ {
		go s.acceptLoop(ctx, i)
	}
}

func (s *Server) acceptLoop(ctx context.Context, id int) {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !sterrors.Is(err, net.ErrClosed) {
				s.logger.Error("accept loop stopped", err, loggingpkg.LogFields{
					"acceptor": id,
				})
			}
			return
		}
		s.engine.acceptConn(ctx, conn)
	}
}

// Addr returns the bound listener address. Useful with port 0.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Push writes a message to one connected peer, outside of any
// request/reply exchange.
func (s *Server) Push(ctx context.Context, connID string, t MessageType, payload any) error {
	return s.engine.send(ctx, connID, t.Name(), "", payload)
}

// Config returns the frozen session configuration.
func (s *Server) Config() *SessionConfig { return s.conf }

// Handlers reports per-type dispatch statistics.
func (s *Server) Handlers() []HandlerInfo { return s.engine.Handlers() }

// Stats exposes the dispatch counters.
func (s *Server) Stats() *DispatchStats { return s.engine.Stats() }

// ActiveConns returns the number of currently tracked connections.
func (s *Server) ActiveConns() int { return s.engine.conns.len() }

// ConnIDs returns the ids of all currently tracked connections, sorted.
// Handlers see the id of their own connection in the message metadata;
// this is for pushes that are not tied to an inbound message.
func (s *Server) ConnIDs() []string { return s.engine.conns.ids() }
