/*
Package runtime implements the session machinery behind quicflow.

# Architecture Overview

A session starts as a Builder: a single-use, fluent collector of endpoint
settings, tuning options and message bindings. The first BuildServer,
BuildClient or BuildSender call freezes the configuration, resolves the
settings sources, constructs the transport endpoint and, for server and
client roles, a dispatch pipeline built on Watermill. The caller gets a
Control handle that owns every acquired resource and releases them in
reverse construction order on Shutdown.

# Package Structure

## Session Builder (builder.go, session.go)

The Builder latches the first configuration error and surfaces it on the
build call. SessionConfig is the immutable snapshot a built session hands
out for inspection.

## Dispatch Engine (engine.go, middleware.go, models.go)

The Engine owns the in-process message bus, the Watermill router and its
middleware chain, the decode worker pool and the connection table.
Inbound streams are decoded into bus messages on the pool; handler
replies are pumped back out over the connection named in their metadata.

The default middleware chain, outermost first:
  - ErrorTrap: invokes the configured error handler, then acks
  - CorrelationID: ensures message traceability
  - LogMessages: debug logging of message traffic
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Prometheus metrics collection
  - Retry: exponential backoff retry logic
  - Recoverer: panic recovery

## Stats & Monitoring (models.go, resources.go)

Per-handler metrics collection: latency percentiles, throughput windows,
error categorization and resource usage sampling, plus dispatch counters
for malformed, unbound and undeliverable messages.

## Roles (server.go, client.go, sender.go)

Server listens and dispatches. Client dials, sends and dispatches while
started. Sender dials and only sends; it carries no dispatch pipeline.

# Sub-packages

  - codec/: payload codec registry (cbor, json, proto)
  - config/: resolved session configuration with validation
  - errors/: sentinel errors and error types
  - handlers/: message context types and typed handler factories
  - ids/: ULID and UUID generation
  - logging/: logger interface and adapters
  - metadata/: message metadata utilities
  - transport/: endpoint factory over the transport registry
  - wire/: stream envelope encoding

# Usage Example

	builder := runtime.NewBuilder("orders")
	err := builder.Bind(runtime.NewMessageType("order.created"),
		handlers.Typed(func(ctx context.Context, msg handlers.MessageContext[*OrderCreated]) ([]handlers.MessageOutput, error) {
			return process(ctx, msg.Payload)
		}))
	if err != nil {
		return err
	}

	control, err := builder.OnPort(9000).BuildServer(ctx)
	if err != nil {
		return err
	}
	defer control.Shutdown()

	server, _ := control.Get()
	return server.Start(ctx)
*/
package runtime
