package runtime

import (
	"context"
	"fmt"
	"net"

	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
	idspkg "github.com/drblury/quicflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	wirepkg "github.com/drblury/quicflow/internal/runtime/wire"
	transportapi "github.com/drblury/quicflow/transport"
)

// Sender is a fire-and-forget session: one dialed connection, no dispatch
// pipeline, no receive loop. Every Send opens a fresh stream, writes one
// envelope and closes the stream.
type Sender struct {
	conn   transportapi.Conn
	codec  codecpkg.Codec
	conf   *SessionConfig
	logger loggingpkg.ServiceLogger
}

// Send writes one message under a fresh correlation id.
func (s *Sender) Send(ctx context.Context, t MessageType, payload any) error {
	return s.SendCorrelated(ctx, t, idspkg.NewCorrelationID(), payload)
}

// SendCorrelated writes one message under the caller's correlation id.
func (s *Sender) SendCorrelated(ctx context.Context, t MessageType, correlationID string, payload any) error {
	if t.IsZero() {
		return fmt.Errorf("send: message type is required")
	}
	data, err := s.codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	env := wirepkg.Envelope{
		Codec:         s.codec.ID(),
		TypeName:      t.Name(),
		CorrelationID: correlationID,
		Payload:       data,
	}
	if err := writeEnvelope(ctx, s.conn, env); err != nil {
		return err
	}
	s.logger.Trace("sent message", loggingpkg.LogFields{
		"message_type":   t.Name(),
		"correlation_id": correlationID,
		"bytes":          len(data),
	})
	return nil
}

// LocalAddr returns the local endpoint address.
func (s *Sender) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RemoteAddr returns the dialed server address.
func (s *Sender) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Config returns the frozen session configuration.
func (s *Sender) Config() *SessionConfig { return s.conf }
