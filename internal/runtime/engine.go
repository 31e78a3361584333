package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
	configpkg "github.com/drblury/quicflow/internal/runtime/config"
	handlerspkg "github.com/drblury/quicflow/internal/runtime/handlers"
	idspkg "github.com/drblury/quicflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/quicflow/internal/runtime/metadata"
	wirepkg "github.com/drblury/quicflow/internal/runtime/wire"
	transportapi "github.com/drblury/quicflow/transport"
)

const (
	// topicOutbound carries handler outputs to the connection writer.
	topicOutbound = "outbound"

	// outboundBuffer sizes the in-process bus channels.
	outboundBuffer = 256
)

// topicInbound returns the bus topic for one bound message type. Each type
// gets its own topic so the router fans deliveries out to the right
// handler without a dispatch switch.
func topicInbound(typeName string) string {
	return "inbound." + typeName
}

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// engineDeps holds the optional collaborators an engine can use. Leave
// fields zero to get defaults.
type engineDeps struct {
	Codec                     codecpkg.Codec
	ErrorHandler              ErrorHandler
	ErrorClassifier           ErrorClassifier
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
}

// Engine owns the dispatch pipeline of a server or client session: the
// in-process message bus, the Watermill router with its middleware chain,
// the worker pool that decodes inbound streams, and the table of live
// connections. Sessions feed accepted connections in; handler outputs flow
// back out over the connection named in their metadata.
type Engine struct {
	conf     *configpkg.Config
	logger   loggingpkg.ServiceLogger
	wmLogger watermill.LoggerAdapter

	bus    *gochannel.GoChannel
	router *message.Router

	bindings *Bindings
	stats    *DispatchStats
	codec    codecpkg.Codec

	pool  *workerPool
	conns *connTable

	errorHandler    ErrorHandler
	errorClassifier ErrorClassifier

	registry *prometheus.Registry

	httpServersMu sync.Mutex
	httpMuxes     map[int]*http.ServeMux
	httpActive    []*http.Server
}

// newEngine assembles the dispatch pipeline. Every acquired resource is
// registered on rel so a failed assembly or a later shutdown releases them
// in reverse order.
func newEngine(conf *configpkg.Config, log loggingpkg.ServiceLogger, bindings *Bindings, deps engineDeps, rel *releaser) (*Engine, error) {
	wmLogger := loggingpkg.NewWatermillAdapter(log)

	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: outboundBuffer,
	}, wmLogger)
	rel.add("message bus", bus.Close)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	rel.add("router", router.Close)

	e := &Engine{
		conf:            conf,
		logger:          log,
		wmLogger:        wmLogger,
		bus:             bus,
		router:          router,
		bindings:        bindings,
		stats:           newDispatchStats(),
		codec:           deps.Codec,
		errorHandler:    deps.ErrorHandler,
		errorClassifier: deps.ErrorClassifier,
		registry:        prometheus.NewRegistry(),
	}
	if e.errorClassifier == nil {
		e.errorClassifier = defaultErrorClassifier
	}

	if err := e.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	if err := e.registerBindings(); err != nil {
		return nil, err
	}

	e.pool = newWorkerPool(conf.EffectiveWorkers())
	rel.add("workers", func() error {
		e.pool.Stop()
		return nil
	})

	e.conns = newConnTable()
	rel.add("connections", e.conns.closeAll)

	if conf.MetricsPort > 0 {
		e.registerIntrospection()
	}
	rel.add("metrics servers", e.stopHTTPServers)

	return e, nil
}

func (e *Engine) registerConfiguredMiddlewares(deps engineDeps) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := e.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// registerBindings builds each bound type's handler once and attaches it
// to the router, subscribed to the type's inbound topic and publishing to
// the shared outbound topic.
func (e *Engine) registerBindings() error {
	res := handlerspkg.Resources{Logger: e.logger, Codec: e.codec}
	for _, binding := range e.bindings.Entries() {
		fn, err := binding.Factory(res)
		if err != nil {
			return fmt.Errorf("build handler for %s: %w", binding.Type, err)
		}
		e.router.AddHandler(
			"handler."+binding.Type.Name(),
			topicInbound(binding.Type.Name()),
			e.bus,
			topicOutbound,
			e.bus,
			e.instrument(binding.Type.Name(), fn),
		)
	}
	return nil
}

func (e *Engine) instrument(typeName string, fn message.HandlerFunc) message.HandlerFunc {
	stats := e.stats.handlerStats(typeName)
	return func(msg *message.Message) ([]*message.Message, error) {
		start := time.Now()
		out, err := fn(msg)
		stats.record(time.Since(start), err, e.errorClassifier)
		return out, err
	}
}

// run starts the dispatch pipeline and blocks until ctx is cancelled or
// the router fails. ready is invoked once the router is running; sessions
// start their ingress loops there so no message is published before the
// bus has subscribers.
func (e *Engine) run(ctx context.Context, ready func(ctx context.Context)) error {
	// Subscribe before the router runs: the in-process bus drops messages
	// published to topics nobody subscribes to.
	outbound, err := e.bus.Subscribe(ctx, topicOutbound)
	if err != nil {
		return fmt.Errorf("subscribe outbound: %w", err)
	}
	go e.outboundPump(ctx, outbound)

	errCh := make(chan error, 1)
	go func() {
		errCh <- routerRun(e.router, ctx)
	}()

	select {
	case <-e.router.Running():
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return <-errCh
	}

	e.startHTTPServers()
	if ready != nil {
		ready(ctx)
	}

	return <-errCh
}

// acceptConn registers a connection and starts its read loop. Returns the
// connection id used for outbound routing.
func (e *Engine) acceptConn(ctx context.Context, conn transportapi.Conn) string {
	id := idspkg.NewConnID()
	e.conns.add(id, conn)
	e.logger.Debug("connection registered", loggingpkg.LogFields{
		"conn_id": id,
		"remote":  conn.RemoteAddr().String(),
	})
	go e.readLoop(ctx, id, conn)
	return id
}

// readLoop accepts streams from one connection until the context ends or
// the connection fails. On context cancellation the connection is left
// open: shutdown owns the teardown through the connection table.
func (e *Engine) readLoop(ctx context.Context, id string, conn transportapi.Conn) {
	remote := conn.RemoteAddr().String()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.conns.remove(id)
			conn.Close()
			e.logger.Debug("connection closed", loggingpkg.LogFields{
				"conn_id": id,
				"remote":  remote,
				"reason":  err.Error(),
			})
			return
		}

		if !e.pool.Submit(func() { e.ingestStream(id, remote, stream) }) {
			stream.Close()
			return
		}
	}
}

// ingestStream decodes one inbound stream and publishes the message onto
// the bus. Runs on the worker pool.
func (e *Engine) ingestStream(connID, remote string, stream io.ReadCloser) {
	defer stream.Close()

	env, err := wirepkg.Decode(stream, e.conf.Tuning.MaxMessageSize)
	if err != nil {
		e.stats.recordMalformed()
		e.logger.Error("dropping malformed stream", err, loggingpkg.LogFields{
			"conn_id": connID,
			"remote":  remote,
		})
		return
	}

	if !e.bindings.Has(env.TypeName) {
		e.stats.recordUnbound()
		e.logger.Info("dropping message with no binding", loggingpkg.LogFields{
			"message_type": env.TypeName,
			"conn_id":      connID,
		})
		return
	}

	wireCodec, err := codecpkg.ByID(env.Codec)
	if err != nil {
		e.stats.recordMalformed()
		e.logger.Error("dropping message with unknown codec", err, loggingpkg.LogFields{
			"message_type": env.TypeName,
			"conn_id":      connID,
		})
		return
	}

	md := metadatapkg.Metadata{
		metadatapkg.KeyMessageType: env.TypeName,
		metadatapkg.KeyConnID:      connID,
		metadatapkg.KeyRemoteAddr:  remote,
		metadatapkg.KeyCodec:       wireCodec.Name(),
	}
	if env.CorrelationID != "" {
		md[metadatapkg.KeyCorrelationID] = env.CorrelationID
	}

	msg := message.NewMessage(idspkg.CreateULID(), env.Payload)
	msg.Metadata = metadatapkg.ToWatermill(md)

	if err := e.bus.Publish(topicInbound(env.TypeName), msg); err != nil {
		e.logger.Error("failed to publish inbound message", err, loggingpkg.LogFields{
			"message_type": env.TypeName,
			"conn_id":      connID,
		})
	}
}

// outboundPump drains handler outputs and writes each onto the connection
// its metadata names. Messages are always acked: an undeliverable output
// is counted and dropped, not redelivered.
func (e *Engine) outboundPump(ctx context.Context, msgs <-chan *message.Message) {
	for msg := range msgs {
		e.deliver(ctx, msg)
		msg.Ack()
	}
}

func (e *Engine) deliver(ctx context.Context, msg *message.Message) {
	connID := msg.Metadata.Get(metadatapkg.KeyConnID)
	typeName := msg.Metadata.Get(metadatapkg.KeyMessageType)

	if connID == "" || typeName == "" {
		e.stats.recordUndeliverable()
		e.logger.Error("dropping outbound message without routing metadata", nil, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"message_type": typeName,
			"conn_id":      connID,
		})
		return
	}

	conn, ok := e.conns.get(connID)
	if !ok {
		e.stats.recordUndeliverable()
		e.logger.Info("dropping outbound message for departed connection", loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"message_type": typeName,
			"conn_id":      connID,
		})
		return
	}

	codecID := e.codec.ID()
	if name := msg.Metadata.Get(metadatapkg.KeyCodec); name != "" {
		if c, err := codecpkg.Get(name); err == nil {
			codecID = c.ID()
		}
	}

	env := wirepkg.Envelope{
		Codec:         codecID,
		TypeName:      typeName,
		CorrelationID: msg.Metadata.Get(metadatapkg.KeyCorrelationID),
		Payload:       msg.Payload,
	}
	if err := writeEnvelope(ctx, conn, env); err != nil {
		e.stats.recordUndeliverable()
		e.logger.Error("failed to write outbound message", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"message_type": typeName,
			"conn_id":      connID,
		})
	}
}

// writeEnvelope opens a fresh stream, writes one envelope, and closes the
// stream so the FIN delimits the message.
func writeEnvelope(ctx context.Context, conn transportapi.Conn, env wirepkg.Envelope) error {
	w, err := conn.OpenStream(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := wirepkg.Encode(w, env); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// send encodes payload with the session codec and writes it to the named
// connection on a fresh stream.
func (e *Engine) send(ctx context.Context, connID, typeName, correlationID string, payload any) error {
	conn, ok := e.conns.get(connID)
	if !ok {
		return fmt.Errorf("unknown connection %s", connID)
	}

	data, err := e.codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typeName, err)
	}
	if correlationID == "" {
		correlationID = idspkg.NewCorrelationID()
	}

	return writeEnvelope(ctx, conn, wirepkg.Envelope{
		Codec:         e.codec.ID(),
		TypeName:      typeName,
		CorrelationID: correlationID,
		Payload:       data,
	})
}

// Handlers returns a snapshot of per-type processing stats.
func (e *Engine) Handlers() []HandlerInfo {
	infos, _, _, _ := e.stats.Snapshot()
	return infos
}

// Stats exposes the engine's dispatch counters.
func (e *Engine) Stats() *DispatchStats {
	return e.stats
}

func (e *Engine) registerHTTPHandler(port int, pattern string, handler http.Handler) {
	e.httpServersMu.Lock()
	defer e.httpServersMu.Unlock()

	if e.httpMuxes == nil {
		e.httpMuxes = make(map[int]*http.ServeMux)
	}

	mux, ok := e.httpMuxes[port]
	if !ok {
		mux = http.NewServeMux()
		e.httpMuxes[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (e *Engine) startHTTPServers() {
	e.httpServersMu.Lock()
	defer e.httpServersMu.Unlock()

	for port, mux := range e.httpMuxes {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		e.httpActive = append(e.httpActive, srv)
		e.logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (e *Engine) stopHTTPServers() error {
	e.httpServersMu.Lock()
	defer e.httpServersMu.Unlock()

	var lastErr error
	for _, srv := range e.httpActive {
		if err := srv.Close(); err != nil {
			lastErr = err
		}
	}
	e.httpActive = nil
	return lastErr
}
