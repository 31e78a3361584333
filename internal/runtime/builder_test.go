package runtime

import (
	"context"
	sterrors "errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/quicflow/internal/runtime/config"
	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
	handlerspkg "github.com/drblury/quicflow/internal/runtime/handlers"
	"github.com/drblury/quicflow/settings"
	"github.com/drblury/quicflow/sockopt"
	transportapi "github.com/drblury/quicflow/transport"
)

type testAddr string

func (a testAddr) Network() string { return "test" }
func (a testAddr) String() string  { return string(a) }

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// capturingFactory records the resolved config and hands out a scripted
// endpoint, so builder tests run without real sockets.
type capturingFactory struct {
	conf     *configpkg.Config
	endpoint *scriptedEndpoint
	buildErr error
}

func newCapturingFactory() *capturingFactory {
	return &capturingFactory{endpoint: &scriptedEndpoint{}}
}

func (f *capturingFactory) Build(conf *configpkg.Config, logger watermill.LoggerAdapter) (transportapi.Endpoint, error) {
	f.conf = conf
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.endpoint, nil
}

type scriptedEndpoint struct {
	listenErr error
	dialErr   error
	closed    atomic.Bool
	listener  scriptedListener
	conn      scriptedConn
}

func (e *scriptedEndpoint) Listen(ctx context.Context) (transportapi.Listener, error) {
	if e.listenErr != nil {
		return nil, e.listenErr
	}
	return &e.listener, nil
}

func (e *scriptedEndpoint) Dial(ctx context.Context) (transportapi.Conn, error) {
	if e.dialErr != nil {
		return nil, e.dialErr
	}
	return &e.conn, nil
}

func (e *scriptedEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}

type scriptedListener struct{ closed atomic.Bool }

func (l *scriptedListener) Accept(ctx context.Context) (transportapi.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (l *scriptedListener) Addr() net.Addr { return testAddr("scripted:0") }

func (l *scriptedListener) Close() error {
	l.closed.Store(true)
	return nil
}

type scriptedConn struct{ closed atomic.Bool }

func (c *scriptedConn) OpenStream(ctx context.Context) (io.WriteCloser, error) {
	return nopWriteCloser{}, nil
}

func (c *scriptedConn) AcceptStream(ctx context.Context) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *scriptedConn) LocalAddr() net.Addr  { return testAddr("local") }
func (c *scriptedConn) RemoteAddr() net.Addr { return testAddr("remote") }

func (c *scriptedConn) Close() error {
	c.closed.Store(true)
	return nil
}

func noopFactory() handlerspkg.Factory {
	return handlerspkg.Raw(func(msg *message.Message) ([]*message.Message, error) {
		return nil, nil
	})
}

func newTestBuilder() (*Builder, *capturingFactory) {
	factory := newCapturingFactory()
	b := NewBuilder("bldtest").
		WithLogger(newTestLogger()).
		WithTransportFactory(factory)
	return b, factory
}

func TestBuilderSingleBuild(t *testing.T) {
	b, _ := newTestBuilder()

	control, err := b.BuildServer(context.Background())
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	defer control.Shutdown()

	if _, err := b.BuildClient(context.Background()); !sterrors.Is(err, errspkg.ErrAlreadyBuilt) {
		t.Fatalf("second build should fail with ErrAlreadyBuilt, got %v", err)
	}
	if _, err := b.BuildSender(context.Background()); !sterrors.Is(err, errspkg.ErrAlreadyBuilt) {
		t.Fatalf("third build should fail with ErrAlreadyBuilt, got %v", err)
	}
}

func TestBuilderLatchesFirstError(t *testing.T) {
	b, _ := newTestBuilder()
	b.OnPort(-1).WithHost("").WithAcceptors(0)

	var cfgErr *errspkg.ConfigError
	if !sterrors.As(b.Err(), &cfgErr) {
		t.Fatalf("Err() = %v, want a ConfigError", b.Err())
	}
	if cfgErr.Op != "port" {
		t.Errorf("latched Op = %q, want the first failing mutator %q", cfgErr.Op, "port")
	}

	_, buildErr := b.BuildServer(context.Background())
	if !sterrors.Is(buildErr, b.Err()) && buildErr != b.Err() {
		t.Errorf("build should surface the latched error, got %v", buildErr)
	}
}

func TestBuilderMutatorsAfterBuildLatch(t *testing.T) {
	b, _ := newTestBuilder()

	control, err := b.BuildSender(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer control.Shutdown()

	b.OnPort(9000)
	if !sterrors.Is(b.Err(), errspkg.ErrAlreadyBuilt) {
		t.Fatalf("mutation after build should latch ErrAlreadyBuilt, got %v", b.Err())
	}
}

func TestBuilderBindDuplicate(t *testing.T) {
	b, _ := newTestBuilder()
	ping := NewMessageType("ping")

	if err := b.Bind(ping, noopFactory()); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	err := b.Bind(ping, noopFactory())
	if !sterrors.Is(err, errspkg.ErrDuplicateBinding) {
		t.Fatalf("rebinding should fail with ErrDuplicateBinding, got %v", err)
	}

	if _, buildErr := b.BuildServer(context.Background()); !sterrors.Is(buildErr, errspkg.ErrDuplicateBinding) {
		t.Errorf("build should surface the bind failure, got %v", buildErr)
	}
}

func TestBuilderBindValidation(t *testing.T) {
	b, _ := newTestBuilder()

	if err := b.Bind(MessageType{}, noopFactory()); !sterrors.Is(err, errspkg.ErrTypeNameRequired) {
		t.Errorf("zero type should fail with ErrTypeNameRequired, got %v", err)
	}

	b2, _ := newTestBuilder()
	if err := b2.Bind(NewMessageType("ping"), nil); !sterrors.Is(err, errspkg.ErrHandlerRequired) {
		t.Errorf("nil factory should fail with ErrHandlerRequired, got %v", err)
	}
}

func TestSenderUsesClientPartition(t *testing.T) {
	b, factory := newTestBuilder()
	b.WithServerOption(sockopt.ReadBufferSize, 1<<16).
		WithClientOption(sockopt.WriteBufferSize, 1<<15)

	control, err := b.BuildSender(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer control.Shutdown()

	tuning := factory.conf.Tuning
	if tuning.WriteBufferSize != 1<<15 {
		t.Errorf("sender should apply client options, WriteBufferSize = %d", tuning.WriteBufferSize)
	}
	if tuning.ReadBufferSize != 0 {
		t.Errorf("sender must not apply server options, ReadBufferSize = %d", tuning.ReadBufferSize)
	}
	if tuning.KeepAlivePeriod != 30*time.Second {
		t.Errorf("shared keep-alive seed missing, KeepAlivePeriod = %v", tuning.KeepAlivePeriod)
	}
}

func TestServerSeedsAcceptBacklog(t *testing.T) {
	b, factory := newTestBuilder()

	control, err := b.BuildServer(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer control.Shutdown()

	if got := factory.conf.Tuning.AcceptBacklog; got != configpkg.DefaultAcceptBacklog {
		t.Errorf("AcceptBacklog = %d, want seeded default %d", got, configpkg.DefaultAcceptBacklog)
	}
}

func TestServerBacklogSeedIsOverridable(t *testing.T) {
	b, factory := newTestBuilder()
	b.WithServerOption(sockopt.AcceptBacklog, 64)

	control, err := b.BuildServer(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer control.Shutdown()

	if got := factory.conf.Tuning.AcceptBacklog; got != 64 {
		t.Errorf("AcceptBacklog = %d, want the explicit option 64", got)
	}
}

func TestSettingsPrecedence(t *testing.T) {
	b, factory := newTestBuilder()
	b.OnPort(7005).WithSettings(settings.Map("test", map[string]string{
		settings.KeyPort: "7205",
		"custom.flag":    "on",
	}))

	control, err := b.BuildServer(context.Background(), "--port", "7305")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer control.Shutdown()

	if factory.conf.Port != 7305 {
		t.Errorf("args should win, Port = %d", factory.conf.Port)
	}
	if got := factory.conf.Settings.GetString("custom.flag", ""); got != "on" {
		t.Errorf("custom keys should survive into the view, got %q", got)
	}
	if factory.conf.Host != configpkg.DefaultHost {
		t.Errorf("host should keep the builder seed, got %q", factory.conf.Host)
	}
}

func TestSettingsParseFailureIsConfigError(t *testing.T) {
	b, _ := newTestBuilder()

	_, err := b.BuildServer(context.Background(), "--port", "eight")
	var cfgErr *errspkg.ConfigError
	if !sterrors.As(err, &cfgErr) {
		t.Fatalf("malformed port should fail with a ConfigError, got %v", err)
	}
	if cfgErr.Op != "settings" {
		t.Errorf("Op = %q, want %q", cfgErr.Op, "settings")
	}
}

func TestBuildFailureReleasesResources(t *testing.T) {
	b, factory := newTestBuilder()
	factory.endpoint.listenErr = sterrors.New("bind refused")

	if _, err := b.BuildServer(context.Background()); err == nil {
		t.Fatal("build should fail when listen fails")
	}
	if !factory.endpoint.closed.Load() {
		t.Error("endpoint should be closed after a failed build")
	}
}

func TestBuildUnknownCodec(t *testing.T) {
	b, _ := newTestBuilder()
	b.WithCodec("yaml")

	_, err := b.BuildClient(context.Background())
	var cfgErr *errspkg.ConfigError
	if !sterrors.As(err, &cfgErr) || cfgErr.Op != "codec" {
		t.Fatalf("unknown codec should fail with ConfigError op codec, got %v", err)
	}
}

func TestBuildUnknownTransport(t *testing.T) {
	b := NewBuilder("bldtest").WithLogger(newTestLogger()).WithTransport("telegraph")

	_, err := b.BuildSender(context.Background())
	var cfgErr *errspkg.ConfigError
	if !sterrors.As(err, &cfgErr) || cfgErr.Op != "transport" {
		t.Fatalf("unknown transport should fail with ConfigError op transport, got %v", err)
	}
}

func TestBuilderOptionValueIsCheckedEagerly(t *testing.T) {
	b, _ := newTestBuilder()
	b.WithOption(sockopt.KeepAlivePeriod, "soon")

	var cfgErr *errspkg.ConfigError
	if !sterrors.As(b.Err(), &cfgErr) {
		t.Fatalf("bad option value should latch a ConfigError, got %v", b.Err())
	}
	if cfgErr.Op != "option" {
		t.Errorf("Op = %q, want %q", cfgErr.Op, "option")
	}
}

func TestBuildSenderIgnoresBindings(t *testing.T) {
	b, _ := newTestBuilder()
	if err := b.Bind(NewMessageType("ping"), noopFactory()); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	control, err := b.BuildSender(context.Background())
	if err != nil {
		t.Fatalf("sender build should succeed with bindings present: %v", err)
	}
	defer control.Shutdown()

	snd, err := control.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snd.Config().Bindings().Len() != 1 {
		t.Error("snapshot should still report the configured binding")
	}
}

func TestBuildServerSnapshotReflectsConfiguration(t *testing.T) {
	b, factory := newTestBuilder()
	b.WithHost("10.0.0.5").OnPort(9000)
	if err := b.Bind(NewMessageType("hello"), noopFactory()); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	control, err := b.BuildServer(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer control.Shutdown()

	if factory.conf.Host != "10.0.0.5" || factory.conf.Port != 9000 {
		t.Errorf("endpoint = %s:%d, want 10.0.0.5:9000", factory.conf.Host, factory.conf.Port)
	}

	srv, err := control.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	sc := srv.Config()
	if sc.Host() != "10.0.0.5" || sc.Port() != 9000 {
		t.Errorf("snapshot endpoint = %s:%d, want 10.0.0.5:9000", sc.Host(), sc.Port())
	}
	if names := sc.Bindings().TypeNames(); len(names) != 1 || names[0] != "hello" {
		t.Errorf("snapshot bindings = %v, want exactly [hello]", names)
	}
}

func TestControlOwnsSessionResources(t *testing.T) {
	b, factory := newTestBuilder()

	control, err := b.BuildServer(context.Background())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	first, err := control.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, _ := control.Get()
	if first != second {
		t.Error("Get should return the same server instance")
	}

	if err := control.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := control.Shutdown(); err != nil {
		t.Errorf("repeated shutdown should be a no-op, got %v", err)
	}

	if _, err := control.Get(); !sterrors.Is(err, errspkg.ErrShutdown) {
		t.Errorf("Get after shutdown should fail with ErrShutdown, got %v", err)
	}
	if !factory.endpoint.closed.Load() {
		t.Error("shutdown should close the endpoint")
	}
	if !factory.endpoint.listener.closed.Load() {
		t.Error("shutdown should close the listener")
	}
}
