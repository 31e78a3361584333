// Package channel provides an in-process transport backend. Listeners
// register in a process-global table keyed by address; dialing the same
// address from the same process yields a connected pair of in-memory
// connections. Useful for tests and for wiring co-located components
// without sockets.
package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/quicflow/transport"
)

// TransportName is the registry key of this backend.
const TransportName = "channel"

const (
	defaultBacklog = 16
	streamBuffer   = 64
)

func init() {
	transport.RegisterWithCapabilities(TransportName, build, transport.Capabilities{
		Multiplexed:    true,
		Network:        false,
		OrderedStreams: true,
	})
}

var (
	tableMu sync.Mutex
	table   = map[string]*listener{}

	dialCounter atomic.Uint64
)

func build(cfg transport.Config, logger watermill.LoggerAdapter) (transport.Endpoint, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &endpoint{
		addr:   fmt.Sprintf("%s:%d", cfg.GetHost(), cfg.GetPort()),
		tuning: cfg.GetTuning(),
		logger: logger,
	}, nil
}

type endpoint struct {
	addr   string
	tuning transport.Tuning
	logger watermill.LoggerAdapter
}

func (e *endpoint) Listen(ctx context.Context) (transport.Listener, error) {
	backlog := e.tuning.AcceptBacklog
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	l := &listener{
		addr:    chanAddr(e.addr),
		backlog: make(chan *conn, backlog),
		done:    make(chan struct{}),
	}

	tableMu.Lock()
	defer tableMu.Unlock()
	if _, taken := table[e.addr]; taken {
		return nil, fmt.Errorf("channel: address %s already in use", e.addr)
	}
	table[e.addr] = l

	e.logger.Debug("channel transport listening", watermill.LogFields{"addr": e.addr})
	return l, nil
}

func (e *endpoint) Dial(ctx context.Context) (transport.Conn, error) {
	tableMu.Lock()
	l, ok := table[e.addr]
	tableMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("channel: connection refused: no listener on %s", e.addr)
	}

	clientAddr := chanAddr(fmt.Sprintf("%s/c%d", e.addr, dialCounter.Add(1)))
	client, server := newConnPair(clientAddr, l.addr, e.tuning.MaxMessageSize)

	select {
	case l.backlog <- server:
	case <-l.done:
		return nil, fmt.Errorf("channel: connection refused: listener on %s closed", e.addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.logger.Debug("channel transport dialed", watermill.LogFields{"addr": e.addr})
	return client, nil
}

func (e *endpoint) Close() error { return nil }

type listener struct {
	addr      chanAddr
	backlog   chan *conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.backlog:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Addr() net.Addr { return l.addr }

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		tableMu.Lock()
		if table[string(l.addr)] == l {
			delete(table, string(l.addr))
		}
		tableMu.Unlock()
		close(l.done)
	})
	return nil
}

// chanAddr is a net.Addr over the in-process address space.
type chanAddr string

func (a chanAddr) Network() string { return "channel" }
func (a chanAddr) String() string  { return string(a) }

func newConnPair(clientAddr, serverAddr chanAddr, maxSize int64) (client, server *conn) {
	client = &conn{
		local:    clientAddr,
		remote:   serverAddr,
		incoming: make(chan io.ReadCloser, streamBuffer),
		done:     make(chan struct{}),
		maxSize:  maxSize,
	}
	server = &conn{
		local:    serverAddr,
		remote:   clientAddr,
		incoming: make(chan io.ReadCloser, streamBuffer),
		done:     make(chan struct{}),
		maxSize:  maxSize,
	}
	client.peer = server
	server.peer = client
	return client, server
}

type conn struct {
	local, remote chanAddr
	peer          *conn
	incoming      chan io.ReadCloser
	done          chan struct{}
	closeOnce     sync.Once
	maxSize       int64
}

func (c *conn) OpenStream(ctx context.Context) (io.WriteCloser, error) {
	select {
	case <-c.done:
		return nil, net.ErrClosed
	case <-c.peer.done:
		return nil, io.ErrClosedPipe
	default:
	}
	return &streamWriter{conn: c}, nil
}

func (c *conn) AcceptStream(ctx context.Context) (io.ReadCloser, error) {
	select {
	case r := <-c.incoming:
		return r, nil
	case <-c.done:
		return nil, net.ErrClosed
	case <-c.peer.done:
		// Drain streams delivered before the peer went away.
		select {
		case r := <-c.incoming:
			return r, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) LocalAddr() net.Addr  { return c.local }
func (c *conn) RemoteAddr() net.Addr { return c.remote }

func (c *conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// streamWriter buffers one outbound message and delivers it to the peer as
// a single stream on Close, mirroring FIN-delimited stream semantics.
type streamWriter struct {
	conn   *conn
	buf    bytes.Buffer
	closed bool
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if w.conn.maxSize > 0 && int64(w.buf.Len()+len(p)) > w.conn.maxSize {
		return 0, fmt.Errorf("channel: stream exceeds %d byte limit", w.conn.maxSize)
	}
	return w.buf.Write(p)
}

func (w *streamWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	data := make([]byte, w.buf.Len())
	copy(data, w.buf.Bytes())
	stream := io.NopCloser(bytes.NewReader(data))

	select {
	case w.conn.peer.incoming <- stream:
		return nil
	case <-w.conn.peer.done:
		return io.ErrClosedPipe
	case <-w.conn.done:
		return io.ErrClosedPipe
	}
}
