package handlers

import (
	"context"

	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/quicflow/internal/runtime/metadata"
)

// MessageContextBase provides common functionality for all message context
// types. It holds the metadata and logger handed to every handler call.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the current metadata map so handlers can
// safely derive headers for outgoing messages without touching the original.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[metadatapkg.KeyCorrelationID]
}

// ConnID returns the identifier of the connection the message arrived on.
func (b MessageContextBase) ConnID() string {
	return b.Metadata[metadatapkg.KeyConnID]
}

// MessageContext exposes the decoded payload and metadata for typed
// handlers.
type MessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// MessageOutput represents one message emitted by a handler. Outputs are
// published to the outbound topic and routed back over the originating
// connection unless their metadata names another one.
type MessageOutput struct {
	// Type is the registered wire type name of Message. Required.
	Type string

	// Message is the payload value to encode.
	Message any

	// Metadata is merged over the inbound message's metadata, so replies
	// keep the correlation id and connection routing by default.
	Metadata metadatapkg.Metadata
}

// MessageHandler processes one decoded message and returns the messages to
// send in response.
type MessageHandler[T any] func(ctx context.Context, msg MessageContext[T]) ([]MessageOutput, error)
