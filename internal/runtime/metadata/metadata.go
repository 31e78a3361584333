// Package metadata carries per-message key/value pairs between transport
// ingress, the dispatch router, and message handlers.
package metadata

// Well-known metadata keys stamped on every message the runtime moves.
const (
	// KeyCorrelationID links replies to the message that caused them.
	KeyCorrelationID = "correlation_id"

	// KeyMessageType holds the wire-level type name of the payload.
	KeyMessageType = "message_type"

	// KeyConnID identifies the peer connection a message arrived on, and
	// selects the connection an outbound message is written to.
	KeyConnID = "conn_id"

	// KeyRemoteAddr records the remote address of the originating peer.
	KeyRemoteAddr = "remote_addr"

	// KeyCodec names the codec that encoded the payload on the wire.
	KeyCodec = "codec"
)

// Metadata is an immutable-by-convention map of message attributes. Mutating
// helpers return copies so handler code can derive reply metadata without
// touching the inbound message.
type Metadata map[string]string

// New returns an empty Metadata map.
func New() Metadata {
	return Metadata{}
}

// Clone returns a copy of m. A nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Get returns the value for key, or the empty string when absent.
func (m Metadata) Get(key string) string {
	return m[key]
}

// With returns a copy of m with key set to value.
func (m Metadata) With(key, value string) Metadata {
	out := m.Clone()
	out[key] = value
	return out
}

// WithAll returns a copy of m with every pair from other applied on top.
func (m Metadata) WithAll(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}
