package runtime

import (
	"context"
	"crypto/tls"
	sterrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
	configpkg "github.com/drblury/quicflow/internal/runtime/config"
	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
	handlerspkg "github.com/drblury/quicflow/internal/runtime/handlers"
	idspkg "github.com/drblury/quicflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	transportpkg "github.com/drblury/quicflow/internal/runtime/transport"
	"github.com/drblury/quicflow/settings"
	"github.com/drblury/quicflow/sockopt"
	transportapi "github.com/drblury/quicflow/transport"
)

// Builder configures a messaging session and produces exactly one server,
// client or sender from it. Mutators return the builder for chaining and
// latch the first configuration error, which surfaces on Err and again on
// the build call. A builder is single-use: the first Build call wins the
// atomic transition to the built state and every later build or mutation
// fails with ErrAlreadyBuilt.
//
// Builders are not safe for concurrent mutation. Configure on one
// goroutine, build, then share the returned Control.
type Builder struct {
	mu    sync.Mutex
	err   error
	built atomic.Bool

	name      string
	host      string
	port      int
	acceptors int
	workers   int

	transportName string
	codecName     string
	binaryCodec   bool

	tlsConf         *tls.Config
	logger          loggingpkg.ServiceLogger
	errorHandler    ErrorHandler
	errorClassifier ErrorClassifier
	middlewares     []MiddlewareRegistration
	disableDefaults bool
	factory         transportpkg.Factory

	shared     *sockopt.Set
	serverOnly *sockopt.Set
	clientOnly *sockopt.Set

	bindings *bindingTable
	sources  []settings.Source
}

// NewBuilder returns a builder seeded with the stack defaults: QUIC on
// 127.0.0.1:8007, binary encoding, one acceptor, a GOMAXPROCS-sized worker
// pool and a shared keep-alive period of 30 seconds. name scopes the
// settings search to <name>.toml files; an empty name falls back to
// "quicflow".
func NewBuilder(name string) *Builder {
	if name == "" {
		name = configpkg.DefaultSettingsName
	}
	b := &Builder{
		name:          name,
		host:          configpkg.DefaultHost,
		port:          configpkg.DefaultPort,
		acceptors:     configpkg.DefaultAcceptorCount,
		workers:       configpkg.DefaultWorkerCount,
		transportName: configpkg.DefaultTransport,
		binaryCodec:   true,
		shared:        sockopt.NewSet(),
		serverOnly:    sockopt.NewSet(),
		clientOnly:    sockopt.NewSet(),
		bindings:      newBindingTable(),
	}
	b.shared.Put(sockopt.KeepAlivePeriod, configpkg.DefaultKeepAlive)
	return b
}

// mutate runs one configuration step under the latch rules: nothing runs
// after the builder is built or after an earlier error, and the first
// failure is kept.
func (b *Builder) mutate(op string, fn func() error) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built.Load() {
		b.latch(&errspkg.ConfigError{Op: op, Err: errspkg.ErrAlreadyBuilt})
		return b
	}
	if b.err != nil {
		return b
	}
	if err := fn(); err != nil {
		b.latch(&errspkg.ConfigError{Op: op, Err: err})
	}
	return b
}

func (b *Builder) latch(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first configuration error a mutator latched, if any.
// Build calls return the same error.
func (b *Builder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// WithHost sets the endpoint host. Settings files and build arguments can
// still override it.
func (b *Builder) WithHost(host string) *Builder {
	return b.mutate("host", func() error {
		if host == "" {
			return sterrors.New("host must not be empty")
		}
		b.host = host
		return nil
	})
}

// OnPort sets the endpoint port. Port 0 asks the transport for an
// ephemeral port.
func (b *Builder) OnPort(port int) *Builder {
	return b.mutate("port", func() error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
		b.port = port
		return nil
	})
}

// WithAcceptors sets how many accept loops a server runs.
func (b *Builder) WithAcceptors(n int) *Builder {
	return b.mutate("acceptors", func() error {
		if n < 1 {
			return fmt.Errorf("acceptor count %d must be at least 1", n)
		}
		b.acceptors = n
		return nil
	})
}

// WithWorkers sets the decode worker pool size. -1 sizes the pool to
// GOMAXPROCS.
func (b *Builder) WithWorkers(n int) *Builder {
	return b.mutate("workers", func() error {
		if n == 0 || n < -1 {
			return fmt.Errorf("worker count %d must be positive or -1", n)
		}
		b.workers = n
		return nil
	})
}

// WithOption applies a tuning option to both sides of the session.
func (b *Builder) WithOption(key *sockopt.Key, value any) *Builder {
	return b.putOption("option", b.shared, key, value)
}

// WithServerOption applies a tuning option to server endpoints only.
func (b *Builder) WithServerOption(key *sockopt.Key, value any) *Builder {
	return b.putOption("server option", b.serverOnly, key, value)
}

// WithClientOption applies a tuning option to client and sender endpoints
// only.
func (b *Builder) WithClientOption(key *sockopt.Key, value any) *Builder {
	return b.putOption("client option", b.clientOnly, key, value)
}

func (b *Builder) putOption(op string, set *sockopt.Set, key *sockopt.Key, value any) *Builder {
	return b.mutate(op, func() error {
		if key == nil {
			return sterrors.New("option key must not be nil")
		}
		if err := key.Check(value); err != nil {
			return err
		}
		set.Put(key, value)
		return nil
	})
}

// Bind associates a message type with the factory that builds its handler.
// Unlike the chained mutators Bind reports its error directly, so a
// duplicate binding fails at the call site rather than at build time. The
// error is still latched on the builder.
func (b *Builder) Bind(t MessageType, factory handlerspkg.Factory) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built.Load() {
		err := &errspkg.ConfigError{Op: "bind", Err: errspkg.ErrAlreadyBuilt}
		b.latch(err)
		return err
	}
	if b.err != nil {
		return b.err
	}
	if err := b.bindings.add(t, factory); err != nil {
		b.latch(err)
		return err
	}
	return nil
}

// WithSettings layers additional settings sources over the default file
// locations. Sources apply in the order given; later sources win, and
// build arguments win over all of them.
func (b *Builder) WithSettings(sources ...settings.Source) *Builder {
	return b.mutate("settings", func() error {
		for _, src := range sources {
			if src == nil {
				return errspkg.ErrSourceRequired
			}
		}
		b.sources = append(b.sources, sources...)
		return nil
	})
}

// UseBinaryEncoding selects the compact binary codec (CBOR). This is the
// default.
func (b *Builder) UseBinaryEncoding() *Builder {
	return b.mutate("encoding", func() error {
		b.binaryCodec = true
		return nil
	})
}

// UseTextEncoding selects the textual codec (JSON) for human-readable wire
// payloads.
func (b *Builder) UseTextEncoding() *Builder {
	return b.mutate("encoding", func() error {
		b.binaryCodec = false
		return nil
	})
}

// WithCodec pins a registered codec by name, overriding the encoding mode
// regardless of call order.
func (b *Builder) WithCodec(name string) *Builder {
	return b.mutate("codec", func() error {
		if name == "" {
			return sterrors.New("codec name must not be empty")
		}
		b.codecName = name
		return nil
	})
}

// WithTransport selects the transport backend by registry name.
func (b *Builder) WithTransport(name string) *Builder {
	return b.mutate("transport", func() error {
		if name == "" {
			return sterrors.New("transport name must not be empty")
		}
		b.transportName = name
		return nil
	})
}

// WithTLS supplies the TLS configuration for the endpoint. Servers without
// one listen with an ephemeral self-signed certificate and clients without
// one skip certificate verification; both defaults are for development
// only.
func (b *Builder) WithTLS(conf *tls.Config) *Builder {
	return b.mutate("tls", func() error {
		b.tlsConf = conf
		return nil
	})
}

// WithLogger routes session logs through the given logger. The default is
// a slog-backed logger on slog.Default.
func (b *Builder) WithLogger(logger loggingpkg.ServiceLogger) *Builder {
	return b.mutate("logger", func() error {
		if logger == nil {
			return errspkg.ErrLoggerRequired
		}
		b.logger = logger
		return nil
	})
}

// WithErrorHandler installs the callback invoked when a handler exhausts
// its retries. The dispatch pipeline acks the message afterwards, so the
// callback is the last stop before the message is dropped.
func (b *Builder) WithErrorHandler(handler ErrorHandler) *Builder {
	return b.mutate("error handler", func() error {
		if handler == nil {
			return sterrors.New("error handler must not be nil")
		}
		b.errorHandler = handler
		return nil
	})
}

// WithErrorClassifier overrides how handler failures are bucketed in the
// per-handler statistics.
func (b *Builder) WithErrorClassifier(classifier ErrorClassifier) *Builder {
	return b.mutate("error classifier", func() error {
		if classifier == nil {
			return sterrors.New("error classifier must not be nil")
		}
		b.errorClassifier = classifier
		return nil
	})
}

// WithMiddlewares appends middleware registrations to the dispatch chain.
// They run inside the defaults unless DisableDefaultMiddlewares was
// called.
func (b *Builder) WithMiddlewares(regs ...MiddlewareRegistration) *Builder {
	return b.mutate("middlewares", func() error {
		b.middlewares = append(b.middlewares, regs...)
		return nil
	})
}

// DisableDefaultMiddlewares drops the built-in middleware chain; only
// middlewares added with WithMiddlewares run.
func (b *Builder) DisableDefaultMiddlewares() *Builder {
	return b.mutate("middlewares", func() error {
		b.disableDefaults = true
		return nil
	})
}

// WithTransportFactory swaps the factory that turns the resolved
// configuration into a transport endpoint. Tests use this to inject
// scripted transports.
func (b *Builder) WithTransportFactory(factory transportpkg.Factory) *Builder {
	return b.mutate("transport factory", func() error {
		if factory == nil {
			return sterrors.New("transport factory must not be nil")
		}
		b.factory = factory
		return nil
	})
}

// BuildServer resolves the configuration, binds the listening endpoint and
// assembles the dispatch pipeline. Accepting starts with Server.Start; the
// returned Control owns every acquired resource.
func (b *Builder) BuildServer(ctx context.Context, args ...string) (*Control[*Server], error) {
	if err := b.beginBuild(); err != nil {
		return nil, err
	}
	parts, err := b.assemble(configpkg.RoleServer, args, true)
	if err != nil {
		return nil, err
	}
	ln, err := parts.endpoint.Listen(ctx)
	if err != nil {
		return nil, parts.fail(fmt.Errorf("listen on %s:%d: %w", parts.conf.Host, parts.conf.Port, err))
	}
	parts.rel.add("listener", ln.Close)

	srv := &Server{
		engine:   parts.engine,
		listener: ln,
		conf:     parts.session,
		logger:   parts.logger,
	}
	parts.logger.Info("server session built", loggingpkg.LogFields{
		"addr":      ln.Addr().String(),
		"transport": parts.conf.Transport,
		"codec":     parts.conf.Codec,
		"bindings":  parts.session.Bindings().Len(),
	})
	return newControl(srv, parts.rel), nil
}

// BuildClient resolves the configuration, dials the server and assembles
// the dispatch pipeline. Receiving starts with Client.Start; Send works
// immediately.
func (b *Builder) BuildClient(ctx context.Context, args ...string) (*Control[*Client], error) {
	if err := b.beginBuild(); err != nil {
		return nil, err
	}
	parts, err := b.assemble(configpkg.RoleClient, args, true)
	if err != nil {
		return nil, err
	}
	conn, err := parts.endpoint.Dial(ctx)
	if err != nil {
		return nil, parts.fail(fmt.Errorf("dial %s:%d: %w", parts.conf.Host, parts.conf.Port, err))
	}
	connID := idspkg.NewConnID()
	parts.engine.conns.add(connID, conn)

	cl := &Client{
		engine: parts.engine,
		connID: connID,
		conn:   conn,
		conf:   parts.session,
		logger: parts.logger,
	}
	parts.logger.Info("client session built", loggingpkg.LogFields{
		"remote":    conn.RemoteAddr().String(),
		"conn_id":   connID,
		"transport": parts.conf.Transport,
		"codec":     parts.conf.Codec,
	})
	return newControl(cl, parts.rel), nil
}

// BuildSender resolves the configuration and dials the server, skipping
// the dispatch pipeline entirely. Senders write messages and never read;
// bound handlers are ignored with a log line.
func (b *Builder) BuildSender(ctx context.Context, args ...string) (*Control[*Sender], error) {
	if err := b.beginBuild(); err != nil {
		return nil, err
	}
	parts, err := b.assemble(configpkg.RoleSender, args, false)
	if err != nil {
		return nil, err
	}
	if n := parts.session.Bindings().Len(); n > 0 {
		parts.logger.Info("ignoring message bindings on a send-only session", loggingpkg.LogFields{
			"bindings": n,
		})
	}
	conn, err := parts.endpoint.Dial(ctx)
	if err != nil {
		return nil, parts.fail(fmt.Errorf("dial %s:%d: %w", parts.conf.Host, parts.conf.Port, err))
	}
	parts.rel.add("connection", conn.Close)

	snd := &Sender{
		conn:   conn,
		codec:  parts.codec,
		conf:   parts.session,
		logger: parts.logger,
	}
	parts.logger.Info("sender session built", loggingpkg.LogFields{
		"remote":    conn.RemoteAddr().String(),
		"transport": parts.conf.Transport,
		"codec":     parts.conf.Codec,
	})
	return newControl(snd, parts.rel), nil
}

// beginBuild performs the one-way open-to-built transition. Exactly one
// build call passes; it still fails if a mutator latched an error.
func (b *Builder) beginBuild() error {
	if !b.built.CompareAndSwap(false, true) {
		return &errspkg.ConfigError{Op: "build", Err: errspkg.ErrAlreadyBuilt}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// buildParts carries the intermediate products of a build. fail unwinds
// everything acquired so far and folds release failures into the build
// error.
type buildParts struct {
	conf     *configpkg.Config
	session  *SessionConfig
	logger   loggingpkg.ServiceLogger
	codec    codecpkg.Codec
	engine   *Engine
	endpoint transportapi.Endpoint
	rel      *releaser
}

func (p *buildParts) fail(err error) error {
	if relErr := p.rel.release(); relErr != nil {
		return sterrors.Join(err, relErr)
	}
	return err
}

func (b *Builder) assemble(role configpkg.Role, args []string, withDispatch bool) (*buildParts, error) {
	conf, err := b.resolveConfig(role, args)
	if err != nil {
		return nil, err
	}
	tuning, err := b.applyOptions(role)
	if err != nil {
		return nil, err
	}
	conf.Tuning = tuning
	if err := conf.Validate(); err != nil {
		return nil, &errspkg.ConfigError{Op: "config", Err: err}
	}

	logger := b.logger
	if logger == nil {
		logger = loggingpkg.NewSlogServiceLogger(slog.Default())
	}
	logger = logger.With(loggingpkg.LogFields{
		"session": b.name,
		"role":    string(role),
	})

	sessionCodec, err := codecpkg.Get(conf.Codec)
	if err != nil {
		return nil, &errspkg.ConfigError{Op: "codec", Err: err}
	}

	session := newSessionConfig(conf, b.shared, b.serverOnly, b.clientOnly, b.bindings.freeze())
	parts := &buildParts{
		conf:    conf,
		session: session,
		logger:  logger,
		codec:   sessionCodec,
		rel:     newReleaser(),
	}

	if withDispatch {
		deps := engineDeps{
			Codec:                     sessionCodec,
			ErrorHandler:              b.errorHandler,
			ErrorClassifier:           b.errorClassifier,
			Middlewares:               b.middlewares,
			DisableDefaultMiddlewares: b.disableDefaults,
		}
		engine, err := newEngine(conf, logger, session.Bindings(), deps, parts.rel)
		if err != nil {
			return nil, parts.fail(&errspkg.ConfigError{Op: "dispatch", Err: err})
		}
		parts.engine = engine
	}

	factory := b.factory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	endpoint, err := factory.Build(conf, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, parts.fail(&errspkg.ConfigError{Op: "transport", Err: err})
	}
	parts.endpoint = endpoint
	parts.rel.add("endpoint", endpoint.Close)

	return parts, nil
}

// resolveConfig layers the settings sources and reads the engine keys.
// Precedence, lowest to highest: builder host/port seed, default file
// locations, explicit sources, build arguments.
func (b *Builder) resolveConfig(role configpkg.Role, args []string) (*configpkg.Config, error) {
	seed := settings.Map("builder", map[string]string{
		settings.KeyHost: b.host,
		settings.KeyPort: strconv.Itoa(b.port),
	})
	sources := make([]settings.Source, 0, len(b.sources)+6)
	sources = append(sources, seed)
	sources = append(sources, settings.DefaultLocations(b.name)...)
	sources = append(sources, b.sources...)
	if len(args) > 0 {
		sources = append(sources, settings.Args(args))
	}
	view, err := settings.Resolve(sources...)
	if err != nil {
		return nil, err
	}

	port, err := view.GetInt(settings.KeyPort, b.port)
	if err != nil {
		return nil, &errspkg.ConfigError{Op: "settings", Err: err}
	}
	metricsPort, err := view.GetInt(settings.KeyMetricsPort, 0)
	if err != nil {
		return nil, &errspkg.ConfigError{Op: "settings", Err: err}
	}
	retryMax, err := view.GetInt(settings.KeyRetryMaxRetries, configpkg.DefaultRetryMaxRetries)
	if err != nil {
		return nil, &errspkg.ConfigError{Op: "settings", Err: err}
	}
	retryInitial, err := view.GetDuration(settings.KeyRetryInitialInterval, configpkg.DefaultRetryInitialInterval)
	if err != nil {
		return nil, &errspkg.ConfigError{Op: "settings", Err: err}
	}
	retryMaxInterval, err := view.GetDuration(settings.KeyRetryMaxInterval, configpkg.DefaultRetryMaxInterval)
	if err != nil {
		return nil, &errspkg.ConfigError{Op: "settings", Err: err}
	}

	codecName := b.codecName
	if codecName == "" {
		codecName = codecpkg.ForEncoding(b.binaryCodec)
	}

	return &configpkg.Config{
		SettingsName:         b.name,
		Transport:            b.transportName,
		Host:                 view.GetString(settings.KeyHost, b.host),
		Port:                 port,
		AcceptorCount:        b.acceptors,
		WorkerCount:          b.workers,
		Codec:                codecName,
		TLS:                  b.tlsConf,
		Settings:             view,
		Role:                 role,
		MetricsPort:          metricsPort,
		RetryMaxRetries:      retryMax,
		RetryInitialInterval: retryInitial,
		RetryMaxInterval:     retryMaxInterval,
	}, nil
}

// applyOptions merges the option partitions for the role and applies them
// onto a fresh tuning target. Servers get shared plus server options over
// an accept backlog seed; clients and senders get shared plus client
// options.
func (b *Builder) applyOptions(role configpkg.Role) (transportapi.Tuning, error) {
	merged := sockopt.NewSet()
	if role == configpkg.RoleServer {
		// Seeded before the user sets so an explicit backlog replaces it.
		merged.Put(sockopt.AcceptBacklog, configpkg.DefaultAcceptBacklog)
		merged.PutAll(b.shared)
		merged.PutAll(b.serverOnly)
	} else {
		merged.PutAll(b.shared)
		merged.PutAll(b.clientOnly)
	}
	var tuning transportapi.Tuning
	if err := merged.Apply(&tuning); err != nil {
		return tuning, &errspkg.ConfigError{Op: "options", Err: err}
	}
	return tuning, nil
}
