package runtime

import (
	"context"
	"net"

	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	transportapi "github.com/drblury/quicflow/transport"
)

// Client is the dialing side of a session with a full dispatch pipeline.
// Send works as soon as the build returns; server-pushed messages are
// dispatched to bound handlers only while Start runs.
type Client struct {
	engine *Engine
	connID string
	conn   transportapi.Conn
	conf   *SessionConfig
	logger loggingpkg.ServiceLogger
}

// Start runs the receive loop and the dispatch pipeline, blocking until
// ctx is cancelled or the pipeline fails. Sessions that only ever call
// Send can skip Start entirely.
func (c *Client) Start(ctx context.Context) error {
	return c.engine.run(ctx, func(runCtx context.Context) {
		go c.engine.readLoop(runCtx, c.connID, c.conn)
	})
}

// Send writes one message to the server under a fresh correlation id.
func (c *Client) Send(ctx context.Context, t MessageType, payload any) error {
	return c.engine.send(ctx, c.connID, t.Name(), "", payload)
}

// SendCorrelated writes one message under the caller's correlation id, so
// a later reply can be tied back to this exchange.
func (c *Client) SendCorrelated(ctx context.Context, t MessageType, correlationID string, payload any) error {
	return c.engine.send(ctx, c.connID, t.Name(), correlationID, payload)
}

// ConnID names this client's connection in handler metadata.
func (c *Client) ConnID() string { return c.connID }

// LocalAddr returns the local endpoint address.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the dialed server address.
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Config returns the frozen session configuration.
func (c *Client) Config() *SessionConfig { return c.conf }

// Handlers reports per-type dispatch statistics.
func (c *Client) Handlers() []HandlerInfo { return c.engine.Handlers() }

// Stats exposes the dispatch counters.
func (c *Client) Stats() *DispatchStats { return c.engine.Stats() }
