package runtime

import (
	configpkg "github.com/drblury/quicflow/internal/runtime/config"
	"github.com/drblury/quicflow/settings"
	"github.com/drblury/quicflow/sockopt"
)

// SessionConfig is the frozen view of everything a builder resolved at build
// time. Sessions hand it out read-only so applications can inspect the
// endpoint, the option sets and the bound message types without being able to
// mutate a running session. All accessors return copies.
type SessionConfig struct {
	conf       *configpkg.Config
	shared     *sockopt.Set
	serverOnly *sockopt.Set
	clientOnly *sockopt.Set
	bindings   *Bindings
}

func newSessionConfig(conf *configpkg.Config, shared, serverOnly, clientOnly *sockopt.Set, bindings *Bindings) *SessionConfig {
	return &SessionConfig{
		conf:       conf,
		shared:     shared.Clone(),
		serverOnly: serverOnly.Clone(),
		clientOnly: clientOnly.Clone(),
		bindings:   bindings,
	}
}

// Config returns a copy of the resolved runtime configuration.
func (sc *SessionConfig) Config() configpkg.Config { return *sc.conf }

func (sc *SessionConfig) Role() configpkg.Role { return sc.conf.Role }

func (sc *SessionConfig) Transport() string { return sc.conf.Transport }

func (sc *SessionConfig) Codec() string { return sc.conf.Codec }

func (sc *SessionConfig) Host() string { return sc.conf.Host }

func (sc *SessionConfig) Port() int { return sc.conf.Port }

func (sc *SessionConfig) AcceptorCount() int { return sc.conf.AcceptorCount }

// WorkerCount reports the resolved pool size, never the -1 sentinel.
func (sc *SessionConfig) WorkerCount() int { return sc.conf.EffectiveWorkers() }

// Settings exposes the layered key/value view the session was built from.
func (sc *SessionConfig) Settings() *settings.View { return sc.conf.Settings }

// Bindings lists the message types the session dispatches.
func (sc *SessionConfig) Bindings() *Bindings { return sc.bindings }

// SharedOptions returns the options applied to both sides of the session.
func (sc *SessionConfig) SharedOptions() *sockopt.Set { return sc.shared.Clone() }

// ServerOnlyOptions returns the server partition on its own.
func (sc *SessionConfig) ServerOnlyOptions() *sockopt.Set { return sc.serverOnly.Clone() }

// ClientOnlyOptions returns the client partition on its own.
func (sc *SessionConfig) ClientOnlyOptions() *sockopt.Set { return sc.clientOnly.Clone() }

// ServerOptions merges shared options with the server partition, the same
// view a server build applies to its transport.
func (sc *SessionConfig) ServerOptions() *sockopt.Set {
	merged := sockopt.NewSet()
	merged.PutAll(sc.shared)
	merged.PutAll(sc.serverOnly)
	return merged
}

// ClientOptions merges shared options with the client partition. Send-only
// sessions use this view as well.
func (sc *SessionConfig) ClientOptions() *sockopt.Set {
	merged := sockopt.NewSet()
	merged.PutAll(sc.shared)
	merged.PutAll(sc.clientOnly)
	return merged
}
