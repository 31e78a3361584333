package sockopt

import (
	"fmt"
	"time"

	"github.com/drblury/quicflow/transport"
)

// Built-in option keys. Server sessions apply shared options then
// server-only options; client and sender sessions apply shared options
// then client-only options.
var (
	// KeepAlivePeriod sets the liveness probe interval on idle
	// connections. Expects a time.Duration.
	KeepAlivePeriod = durationKey("keep_alive_period", func(t *transport.Tuning, d time.Duration) {
		t.KeepAlivePeriod = d
	})

	// MaxIdleTimeout closes connections idle longer than this. Expects a
	// time.Duration.
	MaxIdleTimeout = durationKey("max_idle_timeout", func(t *transport.Tuning, d time.Duration) {
		t.MaxIdleTimeout = d
	})

	// HandshakeTimeout bounds connection establishment. Expects a
	// time.Duration.
	HandshakeTimeout = durationKey("handshake_timeout", func(t *transport.Tuning, d time.Duration) {
		t.HandshakeTimeout = d
	})

	// DialTimeout bounds a whole dial attempt. Expects a time.Duration.
	DialTimeout = durationKey("dial_timeout", func(t *transport.Tuning, d time.Duration) {
		t.DialTimeout = d
	})

	// MaxIncomingStreams caps concurrent inbound streams per connection.
	// Expects an int64.
	MaxIncomingStreams = int64Key("max_incoming_streams", func(t *transport.Tuning, n int64) {
		t.MaxIncomingStreams = n
	})

	// StreamReceiveWindow sizes the per-stream flow control window in
	// bytes. Expects a uint64.
	StreamReceiveWindow = uint64Key("stream_receive_window", func(t *transport.Tuning, n uint64) {
		t.StreamReceiveWindow = n
	})

	// ConnReceiveWindow sizes the per-connection flow control window in
	// bytes. Expects a uint64.
	ConnReceiveWindow = uint64Key("conn_receive_window", func(t *transport.Tuning, n uint64) {
		t.ConnReceiveWindow = n
	})

	// ReadBufferSize sizes the kernel receive buffer in bytes. Expects an
	// int.
	ReadBufferSize = intKey("read_buffer_size", func(t *transport.Tuning, n int) {
		t.ReadBufferSize = n
	})

	// WriteBufferSize sizes the kernel send buffer in bytes. Expects an
	// int.
	WriteBufferSize = intKey("write_buffer_size", func(t *transport.Tuning, n int) {
		t.WriteBufferSize = n
	})

	// EnableDatagrams negotiates unreliable datagram support. Expects a
	// bool.
	EnableDatagrams = boolKey("enable_datagrams", func(t *transport.Tuning, b bool) {
		t.EnableDatagrams = b
	})

	// AcceptBacklog caps connections queued for accept. Expects an int.
	AcceptBacklog = intKey("accept_backlog", func(t *transport.Tuning, n int) {
		t.AcceptBacklog = n
	})

	// MaxMessageSize caps one inbound message's size in bytes. Expects an
	// int64; zero means unlimited.
	MaxMessageSize = int64Key("max_message_size", func(t *transport.Tuning, n int64) {
		t.MaxMessageSize = n
	})
)

func durationKey(name string, apply func(*transport.Tuning, time.Duration)) *Key {
	return NewKey(name,
		func(value any) error {
			d, ok := value.(time.Duration)
			if !ok {
				return fmt.Errorf("option %s: want time.Duration, got %T", name, value)
			}
			if d < 0 {
				return fmt.Errorf("option %s: negative duration %v", name, d)
			}
			return nil
		},
		func(t *transport.Tuning, value any) {
			apply(t, value.(time.Duration))
		},
	)
}

func intKey(name string, apply func(*transport.Tuning, int)) *Key {
	return NewKey(name,
		func(value any) error {
			n, ok := value.(int)
			if !ok {
				return fmt.Errorf("option %s: want int, got %T", name, value)
			}
			if n < 0 {
				return fmt.Errorf("option %s: negative value %d", name, n)
			}
			return nil
		},
		func(t *transport.Tuning, value any) {
			apply(t, value.(int))
		},
	)
}

func int64Key(name string, apply func(*transport.Tuning, int64)) *Key {
	return NewKey(name,
		func(value any) error {
			n, ok := value.(int64)
			if !ok {
				return fmt.Errorf("option %s: want int64, got %T", name, value)
			}
			if n < 0 {
				return fmt.Errorf("option %s: negative value %d", name, n)
			}
			return nil
		},
		func(t *transport.Tuning, value any) {
			apply(t, value.(int64))
		},
	)
}

func uint64Key(name string, apply func(*transport.Tuning, uint64)) *Key {
	return NewKey(name,
		func(value any) error {
			if _, ok := value.(uint64); !ok {
				return fmt.Errorf("option %s: want uint64, got %T", name, value)
			}
			return nil
		},
		func(t *transport.Tuning, value any) {
			apply(t, value.(uint64))
		},
	)
}

func boolKey(name string, apply func(*transport.Tuning, bool)) *Key {
	return NewKey(name,
		func(value any) error {
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("option %s: want bool, got %T", name, value)
			}
			return nil
		},
		func(t *transport.Tuning, value any) {
			apply(t, value.(bool))
		},
	)
}
