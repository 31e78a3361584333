// Package quic provides the default network transport backend. Each
// message travels on its own unidirectional QUIC stream; the stream FIN
// delimits the message. Servers without an explicit TLS config get an
// ephemeral self-signed certificate, and clients without one skip
// verification, which suits development and closed networks. Production
// deployments should supply real certificates through the session builder.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	quicgo "github.com/quic-go/quic-go"

	"github.com/drblury/quicflow/transport"
)

// TransportName is the registry key of this backend.
const TransportName = "quic"

// Proto is the ALPN protocol id negotiated on every connection.
const Proto = "quicflow/1"

func init() {
	transport.RegisterWithCapabilities(TransportName, build, transport.Capabilities{
		Version:           "QUIC v1",
		Multiplexed:       true,
		Network:           true,
		SupportsDatagrams: true,
		SupportsTLS:       true,
		OrderedStreams:    true,
	})
}

func build(cfg transport.Config, logger watermill.LoggerAdapter) (transport.Endpoint, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &endpoint{
		addr:   fmt.Sprintf("%s:%d", cfg.GetHost(), cfg.GetPort()),
		tls:    cfg.GetTLS(),
		tuning: cfg.GetTuning(),
		logger: logger,
	}, nil
}

type endpoint struct {
	addr   string
	tls    *tls.Config
	tuning transport.Tuning
	logger watermill.LoggerAdapter
}

func (e *endpoint) quicConfig() *quicgo.Config {
	conf := &quicgo.Config{}
	t := e.tuning
	if t.MaxIdleTimeout > 0 {
		conf.MaxIdleTimeout = t.MaxIdleTimeout
	}
	if t.KeepAlivePeriod > 0 {
		conf.KeepAlivePeriod = t.KeepAlivePeriod
	}
	if t.HandshakeTimeout > 0 {
		conf.HandshakeIdleTimeout = t.HandshakeTimeout
	}
	if t.MaxIncomingStreams > 0 {
		conf.MaxIncomingUniStreams = t.MaxIncomingStreams
	}
	if t.StreamReceiveWindow > 0 {
		conf.InitialStreamReceiveWindow = t.StreamReceiveWindow
		conf.MaxStreamReceiveWindow = t.StreamReceiveWindow
	}
	if t.ConnReceiveWindow > 0 {
		conf.InitialConnectionReceiveWindow = t.ConnReceiveWindow
		conf.MaxConnectionReceiveWindow = t.ConnReceiveWindow
	}
	conf.EnableDatagrams = t.EnableDatagrams
	return conf
}

func (e *endpoint) Listen(ctx context.Context) (transport.Listener, error) {
	tlsConf := e.tls
	if tlsConf == nil {
		generated, err := selfSignedConfig()
		if err != nil {
			return nil, fmt.Errorf("quic: generate certificate: %w", err)
		}
		tlsConf = generated
		e.logger.Info("quic transport using self-signed certificate", watermill.LogFields{
			"addr": e.addr,
		})
	} else {
		tlsConf = tlsConf.Clone()
		if len(tlsConf.NextProtos) == 0 {
			tlsConf.NextProtos = []string{Proto}
		}
	}

	conf := e.quicConfig()

	// Socket buffer tuning needs the UDP socket before quic-go wraps it.
	if e.tuning.ReadBufferSize > 0 || e.tuning.WriteBufferSize > 0 {
		udpAddr, err := net.ResolveUDPAddr("udp", e.addr)
		if err != nil {
			return nil, fmt.Errorf("quic: resolve %s: %w", e.addr, err)
		}
		udpConn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return nil, fmt.Errorf("quic: listen %s: %w", e.addr, err)
		}
		if e.tuning.ReadBufferSize > 0 {
			if err := udpConn.SetReadBuffer(e.tuning.ReadBufferSize); err != nil {
				e.logger.Info("quic transport could not set read buffer", watermill.LogFields{
					"size": e.tuning.ReadBufferSize, "err": err.Error(),
				})
			}
		}
		if e.tuning.WriteBufferSize > 0 {
			if err := udpConn.SetWriteBuffer(e.tuning.WriteBufferSize); err != nil {
				e.logger.Info("quic transport could not set write buffer", watermill.LogFields{
					"size": e.tuning.WriteBufferSize, "err": err.Error(),
				})
			}
		}
		tr := &quicgo.Transport{Conn: udpConn}
		ln, err := tr.Listen(tlsConf, conf)
		if err != nil {
			tr.Close()
			udpConn.Close()
			return nil, fmt.Errorf("quic: listen %s: %w", e.addr, err)
		}
		return &listener{ln: ln, cleanup: func() error {
			trErr := tr.Close()
			udpErr := udpConn.Close()
			if trErr != nil {
				return trErr
			}
			return udpErr
		}}, nil
	}

	ln, err := quicgo.ListenAddr(e.addr, tlsConf, conf)
	if err != nil {
		return nil, fmt.Errorf("quic: listen %s: %w", e.addr, err)
	}
	return &listener{ln: ln}, nil
}

func (e *endpoint) Dial(ctx context.Context) (transport.Conn, error) {
	tlsConf := e.tls
	if tlsConf == nil {
		tlsConf = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{Proto},
			MinVersion:         tls.VersionTLS13,
		}
	} else {
		tlsConf = tlsConf.Clone()
		if len(tlsConf.NextProtos) == 0 {
			tlsConf.NextProtos = []string{Proto}
		}
	}

	if e.tuning.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.tuning.DialTimeout)
		defer cancel()
	}

	qc, err := quicgo.DialAddr(ctx, e.addr, tlsConf, e.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic: dial %s: %w", e.addr, err)
	}
	return &connection{conn: qc}, nil
}

func (e *endpoint) Close() error { return nil }

type listener struct {
	ln      *quicgo.Listener
	cleanup func() error
}

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	qc, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &connection{conn: qc}, nil
}

func (l *listener) Addr() net.Addr { return l.ln.Addr() }

func (l *listener) Close() error {
	err := l.ln.Close()
	if l.cleanup != nil {
		if cleanupErr := l.cleanup(); err == nil {
			err = cleanupErr
		}
	}
	return err
}

type connection struct {
	conn quicgo.Connection
}

func (c *connection) OpenStream(ctx context.Context) (io.WriteCloser, error) {
	return c.conn.OpenUniStreamSync(ctx)
}

func (c *connection) AcceptStream(ctx context.Context) (io.ReadCloser, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &receiveStream{ReceiveStream: s}, nil
}

func (c *connection) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *connection) Close() error {
	return c.conn.CloseWithError(0, "shutdown")
}

// receiveStream adapts a read-only QUIC stream to io.ReadCloser. Close
// cancels any outstanding flow control credit.
type receiveStream struct {
	quicgo.ReceiveStream
}

func (r *receiveStream) Close() error {
	r.CancelRead(0)
	return nil
}

func selfSignedConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"quicflow"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		NextProtos: []string{Proto},
		MinVersion: tls.VersionTLS13,
	}, nil
}
