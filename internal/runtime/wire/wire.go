// Package wire implements the stream envelope format. Each message travels
// on its own unidirectional stream: a fixed header, two length-prefixed
// strings, then the payload running to the end of the stream. The stream
// FIN delimits the message, so no payload length field is needed.
//
//	offset  field
//	0       magic 'Q'
//	1       magic 'F'
//	2       format version (0x01)
//	3       codec id
//	4..     uvarint length + type name
//	..      uvarint length + correlation id
//	..      payload (to end of stream)
package wire

import (
	"bufio"
	"encoding/binary"
	sterrors "errors"
	"fmt"
	"io"
)

const (
	magic0  = 'Q'
	magic1  = 'F'
	version = 0x01

	// maxNameLen bounds the type name and correlation id fields. Both are
	// short identifiers; anything larger indicates a corrupt or hostile
	// stream.
	maxNameLen = 4096
)

var (
	// ErrBadMagic reports a stream that does not start with the envelope
	// magic bytes.
	ErrBadMagic = sterrors.New("quicflow: wire: bad magic")

	// ErrBadVersion reports an envelope with an unsupported format version.
	ErrBadVersion = sterrors.New("quicflow: wire: unsupported version")

	// ErrFieldTooLong reports a header field exceeding its size bound.
	ErrFieldTooLong = sterrors.New("quicflow: wire: header field too long")

	// ErrPayloadTooLarge reports a payload exceeding the configured
	// message size limit.
	ErrPayloadTooLarge = sterrors.New("quicflow: wire: payload exceeds size limit")
)

// Envelope is one decoded wire message.
type Envelope struct {
	// Codec is the wire id of the codec that produced Payload.
	Codec byte

	// TypeName is the registered message type of the payload.
	TypeName string

	// CorrelationID links this message to the one it replies to. May be
	// empty on unsolicited messages.
	CorrelationID string

	// Payload is the codec-encoded message body.
	Payload []byte
}

// Encode writes env to w in wire format. The caller closes the stream
// afterwards; the close carries the FIN that delimits the payload.
func Encode(w io.Writer, env Envelope) error {
	if len(env.TypeName) == 0 {
		return fmt.Errorf("quicflow: wire: empty type name")
	}
	if len(env.TypeName) > maxNameLen || len(env.CorrelationID) > maxNameLen {
		return ErrFieldTooLong
	}

	var varint [binary.MaxVarintLen64]byte

	header := make([]byte, 0, 4+2*binary.MaxVarintLen64+len(env.TypeName)+len(env.CorrelationID))
	header = append(header, magic0, magic1, version, env.Codec)
	header = append(header, varint[:binary.PutUvarint(varint[:], uint64(len(env.TypeName)))]...)
	header = append(header, env.TypeName...)
	header = append(header, varint[:binary.PutUvarint(varint[:], uint64(len(env.CorrelationID)))]...)
	header = append(header, env.CorrelationID...)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("quicflow: wire: write header: %w", err)
	}
	if len(env.Payload) > 0 {
		if _, err := w.Write(env.Payload); err != nil {
			return fmt.Errorf("quicflow: wire: write payload: %w", err)
		}
	}
	return nil
}

// Decode reads one envelope from r. The payload runs to EOF. A maxPayload
// of zero or less disables the size check; otherwise payloads larger than
// maxPayload fail with ErrPayloadTooLarge.
func Decode(r io.Reader, maxPayload int64) (Envelope, error) {
	br := bufio.NewReader(r)

	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return Envelope{}, fmt.Errorf("quicflow: wire: read header: %w", err)
	}
	if head[0] != magic0 || head[1] != magic1 {
		return Envelope{}, ErrBadMagic
	}
	if head[2] != version {
		return Envelope{}, fmt.Errorf("%w: %d", ErrBadVersion, head[2])
	}

	typeName, err := readString(br)
	if err != nil {
		return Envelope{}, fmt.Errorf("quicflow: wire: read type name: %w", err)
	}
	correlationID, err := readString(br)
	if err != nil {
		return Envelope{}, fmt.Errorf("quicflow: wire: read correlation id: %w", err)
	}

	payload, err := readPayload(br, maxPayload)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Codec:         head[3],
		TypeName:      typeName,
		CorrelationID: correlationID,
		Payload:       payload,
	}, nil
}

func readString(br *bufio.Reader) (string, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return "", err
	}
	if n > maxNameLen {
		return "", ErrFieldTooLong
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readPayload(br *bufio.Reader, maxPayload int64) ([]byte, error) {
	if maxPayload <= 0 {
		payload, err := io.ReadAll(br)
		if err != nil {
			return nil, fmt.Errorf("quicflow: wire: read payload: %w", err)
		}
		return payload, nil
	}

	// Read one byte past the limit to distinguish "exactly at the limit"
	// from "over it".
	payload, err := io.ReadAll(io.LimitReader(br, maxPayload+1))
	if err != nil {
		return nil, fmt.Errorf("quicflow: wire: read payload: %w", err)
	}
	if int64(len(payload)) > maxPayload {
		return nil, fmt.Errorf("%w: got more than %d bytes", ErrPayloadTooLarge, maxPayload)
	}
	return payload, nil
}
