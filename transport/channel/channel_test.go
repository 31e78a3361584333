package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/quicflow/transport"
)

type testConfig struct {
	host   string
	port   int
	tuning transport.Tuning
}

func (c testConfig) GetTransport() string        { return TransportName }
func (c testConfig) GetHost() string             { return c.host }
func (c testConfig) GetPort() int                { return c.port }
func (c testConfig) GetTuning() transport.Tuning { return c.tuning }
func (c testConfig) GetTLS() *tls.Config         { return nil }

var portCounter atomic.Int32

func newEndpoint(t *testing.T, tuning transport.Tuning) transport.Endpoint {
	t.Helper()
	cfg := testConfig{
		host:   "test-host",
		port:   int(10000 + portCounter.Add(1)),
		tuning: tuning,
	}
	ep, err := transport.Build(cfg, watermill.NopLogger{})
	require.NoError(t, err)
	return ep
}

func TestRegisteredInDefaultRegistry(t *testing.T) {
	assert.True(t, transport.Has(TransportName))

	caps, ok := transport.GetCapabilities(TransportName)
	require.True(t, ok)
	assert.False(t, caps.Network)
	assert.True(t, caps.Multiplexed)
	assert.True(t, caps.OrderedStreams)
}

func TestDialWithoutListener(t *testing.T) {
	ep := newEndpoint(t, transport.Tuning{})
	_, err := ep.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestListenTwiceOnSameAddress(t *testing.T) {
	ep := newEndpoint(t, transport.Tuning{})
	l, err := ep.Listen(context.Background())
	require.NoError(t, err)
	defer l.Close()

	_, err = ep.Listen(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")
}

func TestStreamRoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := newEndpoint(t, transport.Tuning{})

	l, err := ep.Listen(ctx)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	client, err := ep.Dial(ctx)
	require.NoError(t, err)
	defer client.Close()

	var server transport.Conn
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("accept timed out")
	}
	defer server.Close()

	w, err := client.OpenStream(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStreamsArriveInOpenOrder(t *testing.T) {
	ctx := context.Background()
	ep := newEndpoint(t, transport.Tuning{})

	l, err := ep.Listen(ctx)
	require.NoError(t, err)
	defer l.Close()

	go func() {
		client, err := ep.Dial(ctx)
		if err != nil {
			return
		}
		for i := 0; i < 5; i++ {
			w, err := client.OpenStream(ctx)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "msg-%d", i)
			w.Close()
		}
	}()

	server, err := l.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	for i := 0; i < 5; i++ {
		r, err := server.AcceptStream(ctx)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(data))
	}
}

func TestMaxMessageSizeEnforced(t *testing.T) {
	ctx := context.Background()
	ep := newEndpoint(t, transport.Tuning{MaxMessageSize: 8})

	l, err := ep.Listen(ctx)
	require.NoError(t, err)
	defer l.Close()

	go l.Accept(ctx)

	client, err := ep.Dial(ctx)
	require.NoError(t, err)
	defer client.Close()

	w, err := client.OpenStream(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestAcceptStreamAfterPeerClose(t *testing.T) {
	ctx := context.Background()
	ep := newEndpoint(t, transport.Tuning{})

	l, err := ep.Listen(ctx)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	client, err := ep.Dial(ctx)
	require.NoError(t, err)
	server := <-accepted

	// A stream delivered before close is still readable afterwards.
	w, err := client.OpenStream(ctx)
	require.NoError(t, err)
	w.Write([]byte("last words"))
	require.NoError(t, w.Close())
	require.NoError(t, client.Close())

	r, err := server.AcceptStream(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "last words", string(data))

	// Then the connection reports EOF.
	_, err = server.AcceptStream(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenStreamAfterClose(t *testing.T) {
	ctx := context.Background()
	ep := newEndpoint(t, transport.Tuning{})

	l, err := ep.Listen(ctx)
	require.NoError(t, err)
	defer l.Close()

	go l.Accept(ctx)

	client, err := ep.Dial(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = client.OpenStream(ctx)
	require.Error(t, err)
}

func TestAcceptRespectsContext(t *testing.T) {
	ep := newEndpoint(t, transport.Tuning{})

	l, err := ep.Listen(context.Background())
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenerCloseReleasesAddress(t *testing.T) {
	ep := newEndpoint(t, transport.Tuning{})

	l, err := ep.Listen(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// The address is free for a new listener.
	l2, err := ep.Listen(context.Background())
	require.NoError(t, err)
	defer l2.Close()
}
