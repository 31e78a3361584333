package transport

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/quicflow/internal/runtime/config"
	newtransport "github.com/drblury/quicflow/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/quicflow/transport/channel"
	_ "github.com/drblury/quicflow/transport/quic"
)

// Factory abstracts how quicflow initialises transport endpoints. Sessions
// use the default factory; tests substitute their own to observe endpoint
// lifecycle.
type Factory interface {
	Build(conf *config.Config, logger watermill.LoggerAdapter) (newtransport.Endpoint, error)
}

// DefaultFactory returns the built-in transport factory that uses the
// modular transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(conf *config.Config, logger watermill.LoggerAdapter) (newtransport.Endpoint, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}
	return newtransport.Build(conf, logger)
}
