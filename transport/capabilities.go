package transport

// Capabilities describes what a transport backend supports. Applications
// can inspect these before selecting a transport, for example to require
// TLS or datagram support.
type Capabilities struct {
	// Name is the registry key of the backend.
	Name string

	// Version is the backend or protocol version string, if meaningful.
	Version string

	// Multiplexed reports whether one connection carries many concurrent
	// streams.
	Multiplexed bool

	// Network reports whether the backend crosses process boundaries.
	// The in-process channel backend sets this false.
	Network bool

	// SupportsDatagrams reports unreliable datagram support.
	SupportsDatagrams bool

	// SupportsTLS reports whether connections can be TLS protected.
	SupportsTLS bool

	// OrderedStreams reports whether bytes within one stream arrive in
	// order. All built-in backends guarantee this.
	OrderedStreams bool

	// MaxMessageSize is the largest message the backend itself can move,
	// in bytes. Zero means no backend-imposed cap.
	MaxMessageSize int64
}

// GetCapabilities looks name up in the default registry.
func GetCapabilities(name string) (Capabilities, bool) {
	return defaultRegistry.Capabilities(name)
}
