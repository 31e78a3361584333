// Package quicflow is a small layer on top of Watermill that builds
// message-oriented peer sessions: a fluent builder assembles a server, a
// client, or a send-only session, and every message travels as one
// self-delimited stream over a pluggable peer transport (QUIC or in-memory
// channels out of the box).
//
// A Builder collects the session shape: address, typed message bindings,
// socket options split into shared, server-only, and client-only sets, and
// layered settings from TOML files and command-line arguments. Exactly one
// Build call is allowed per builder; it returns a Control that owns the
// session and releases every acquired resource on Shutdown. Mutators never
// fail mid-chain: the first configuration error latches and surfaces from
// Err or the Build call.
//
// # Sessions
//
// BuildServer listens and serves bound handlers across all accepted peers,
// BuildClient dials and serves bound handlers over its single connection,
// and BuildSender dials for fire-and-forget publishing with no dispatch
// machinery at all. Servers push messages to a chosen peer with Push;
// handler outputs are routed back to the connection the inbound message
// arrived on.
//
// # Handlers
//
// Bind associates a wire type name with a handler factory. Typed decodes
// payloads into your struct with the codec named on the wire (CBOR, JSON,
// or protobuf), clones metadata into replies so correlation IDs survive
// round trips, and reports undecodable payloads as permanent failures.
// Raw exposes the undecoded Watermill message for full control.
//
// # Middleware
//
// The default dispatch chain includes error trapping, correlation ID
// injection, structured logging, OpenTelemetry tracing, Prometheus metrics,
// retry with exponential backoff, and panic recovery. Custom registrations
// are added via Builder.WithMiddlewares, and DispatchHooksMiddleware offers
// OnMessageStart, OnMessageDone, and OnMessageError callbacks around
// handler execution.
//
// # Settings
//
// Session settings resolve in layers: built-in defaults, then TOML files
// from the conventional locations for the session name, then explicit
// sources given to WithSettings, then command-line arguments passed to the
// Build call. Later layers win, so an operator can override any builder
// default without a rebuild.
package quicflow
