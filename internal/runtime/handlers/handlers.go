// Package handlers converts typed application handlers into Watermill
// handler funcs. A handler factory receives the session's resources at
// build time, so handler code never constructs codecs or loggers itself.
package handlers

import (
	"github.com/ThreeDotsLabs/watermill/message"

	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
)

// Resources is what a session hands to each handler factory at build time.
type Resources struct {
	Logger loggingpkg.ServiceLogger

	// Codec is the session's default payload codec. Inbound messages may
	// carry a different codec in their metadata; the typed factory honors
	// it per message.
	Codec codecpkg.Codec
}

// Factory builds the Watermill handler for one bound message type.
type Factory func(res Resources) (message.HandlerFunc, error)

// Raw wraps a plain Watermill handler func as a Factory, for handlers that
// want the undecoded payload.
func Raw(fn message.HandlerFunc) Factory {
	return func(Resources) (message.HandlerFunc, error) {
		if fn == nil {
			return nil, errspkg.ErrHandlerRequired
		}
		return fn, nil
	}
}
