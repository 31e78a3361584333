// Package transport defines the peer transport contract used by quicflow
// sessions and a registry of named transport backends. A backend provides
// listen and dial endpoints over which each message travels as one
// self-delimited unidirectional stream.
//
// Backends register themselves in init, typically via a blank import:
//
//	import _ "github.com/drblury/quicflow/transport/quic"
//
// The transports package imports every built-in backend for convenience.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Tuning carries the socket and session knobs a backend may honor. Zero
// values mean "backend default". Backends ignore knobs they have no
// equivalent for.
type Tuning struct {
	// KeepAlivePeriod is the interval between liveness probes on an idle
	// connection. Zero disables probing.
	KeepAlivePeriod time.Duration

	// MaxIdleTimeout closes a connection that stays silent this long.
	MaxIdleTimeout time.Duration

	// HandshakeTimeout bounds connection establishment.
	HandshakeTimeout time.Duration

	// DialTimeout bounds the whole dial, including the handshake.
	DialTimeout time.Duration

	// MaxIncomingStreams caps concurrently open inbound streams per
	// connection.
	MaxIncomingStreams int64

	// StreamReceiveWindow and ConnReceiveWindow size the flow control
	// windows, in bytes.
	StreamReceiveWindow uint64
	ConnReceiveWindow   uint64

	// ReadBufferSize and WriteBufferSize size the kernel socket buffers,
	// in bytes.
	ReadBufferSize  int
	WriteBufferSize int

	// EnableDatagrams negotiates unreliable datagram support where the
	// backend offers it.
	EnableDatagrams bool

	// AcceptBacklog caps connections queued for Accept.
	AcceptBacklog int

	// MaxMessageSize caps the decoded size of one inbound message, in
	// bytes. Zero means unlimited.
	MaxMessageSize int64
}

// Config is the read-only view of session configuration a backend needs to
// construct its endpoint.
type Config interface {
	GetTransport() string
	GetHost() string
	GetPort() int
	GetTuning() Tuning
	GetTLS() *tls.Config
}

// Conn is one established peer connection. Streams are unidirectional;
// closing a write stream delimits the message written to it.
type Conn interface {
	// OpenStream opens an outbound stream. The returned writer must be
	// closed to finish the message.
	OpenStream(ctx context.Context) (io.WriteCloser, error)

	// AcceptStream blocks until the peer opens a stream towards us.
	AcceptStream(ctx context.Context) (io.ReadCloser, error)

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Close tears the connection down. In-flight streams fail.
	Close() error
}

// Listener accepts inbound peer connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Endpoint is a configured transport backend bound to one address. Server
// sessions call Listen, client sessions call Dial.
type Endpoint interface {
	Listen(ctx context.Context) (Listener, error)
	Dial(ctx context.Context) (Conn, error)

	// Close releases endpoint-level resources. Listeners and connections
	// created by the endpoint are closed by their owners.
	Close() error
}

// Builder constructs a backend's endpoint from session configuration.
// Construction is passive; no sockets are opened until Listen or Dial.
type Builder func(cfg Config, logger watermill.LoggerAdapter) (Endpoint, error)
