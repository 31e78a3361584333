// Package config holds the resolved, validated configuration snapshot a
// session is built from.
package config

import (
	"crypto/tls"
	"fmt"
	"runtime"
	"time"

	sterrors "errors"

	"github.com/drblury/quicflow/settings"
	"github.com/drblury/quicflow/transport"
)

// Defaults applied when neither settings nor builder calls override them.
const (
	DefaultPort          = 8007
	DefaultHost          = "127.0.0.1"
	DefaultAcceptorCount = 1
	DefaultWorkerCount   = -1
	DefaultSettingsName  = "quicflow"
	DefaultTransport     = "quic"
	DefaultCodec         = "cbor"

	DefaultKeepAlive     = 30 * time.Second
	DefaultAcceptBacklog = 1024

	DefaultRetryMaxRetries      = 5
	DefaultRetryInitialInterval = time.Second
	DefaultRetryMaxInterval     = 16 * time.Second
)

// Role names which side of the protocol a session plays.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
	RoleSender Role = "sender"
)

// Config is the immutable configuration snapshot captured at build time.
// Mutating it after build has no effect on the running session.
type Config struct {
	// SettingsName selects the conventional settings file locations.
	SettingsName string

	// Transport is the registry name of the transport backend.
	Transport string

	Host string
	Port int

	// AcceptorCount is the number of accept loops a server runs.
	AcceptorCount int

	// WorkerCount sizes the handler worker pool. -1 means one worker per
	// available CPU.
	WorkerCount int

	// Codec is the registry name of the default payload codec.
	Codec string

	// TLS overrides the backend's self-provisioned TLS setup when set.
	TLS *tls.Config

	// Tuning is the result of applying the session's option sets.
	Tuning transport.Tuning

	// Settings is the resolved settings view the snapshot was derived
	// from, kept for application lookups of custom keys.
	Settings *settings.View

	Role Role

	// MetricsPort exposes a Prometheus endpoint when positive.
	MetricsPort int

	// Retry controls redelivery of failed handler invocations.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// GetTransport implements transport.Config.
func (c *Config) GetTransport() string { return c.Transport }

// GetHost implements transport.Config.
func (c *Config) GetHost() string { return c.Host }

// GetPort implements transport.Config.
func (c *Config) GetPort() int { return c.Port }

// GetTuning implements transport.Config.
func (c *Config) GetTuning() transport.Tuning { return c.Tuning }

// GetTLS implements transport.Config.
func (c *Config) GetTLS() *tls.Config { return c.TLS }

// EffectiveWorkers resolves the worker count, mapping the -1 sentinel to
// the number of available CPUs.
func (c *Config) EffectiveWorkers() int {
	if c.WorkerCount == -1 {
		return runtime.GOMAXPROCS(0)
	}
	return c.WorkerCount
}

// Validate checks the snapshot for internal consistency and returns every
// violation joined into one error.
func (c *Config) Validate() error {
	return sterrors.Join(
		c.validateEndpoint(),
		c.validateDispatch(),
		c.validateRetry(),
		c.validatePorts(),
	)
}

func (c *Config) validateEndpoint() error {
	var errs []error
	if c.Transport == "" {
		errs = append(errs, fmt.Errorf("transport name is empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	return sterrors.Join(errs...)
}

func (c *Config) validateDispatch() error {
	var errs []error
	if c.AcceptorCount < 1 {
		errs = append(errs, fmt.Errorf("acceptor count %d must be at least 1", c.AcceptorCount))
	}
	if c.WorkerCount != -1 && c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("worker count %d must be -1 or at least 1", c.WorkerCount))
	}
	if c.Codec == "" {
		errs = append(errs, fmt.Errorf("codec name is empty"))
	}
	return sterrors.Join(errs...)
}

func (c *Config) validateRetry() error {
	var errs []error
	if c.RetryMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry max retries %d is negative", c.RetryMaxRetries))
	}
	if c.RetryInitialInterval < 0 || c.RetryMaxInterval < 0 {
		errs = append(errs, fmt.Errorf("retry intervals must not be negative"))
	}
	if c.RetryInitialInterval > c.RetryMaxInterval && c.RetryMaxInterval > 0 {
		errs = append(errs, fmt.Errorf("retry initial interval %v exceeds max interval %v",
			c.RetryInitialInterval, c.RetryMaxInterval))
	}
	return sterrors.Join(errs...)
}

func (c *Config) validatePorts() error {
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port %d out of range", c.MetricsPort)
	}
	return nil
}

// ValidateConfig validates a possibly nil snapshot.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	return c.Validate()
}

// String renders the snapshot for logs with the TLS config redacted.
func (c *Config) String() string {
	type plain Config
	shadow := plain(*c)
	tlsInfo := "none"
	if shadow.TLS != nil {
		tlsInfo = "custom"
	}
	shadow.TLS = nil
	return fmt.Sprintf("%+v (tls: %s)", shadow, tlsInfo)
}
