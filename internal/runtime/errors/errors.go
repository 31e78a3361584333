package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrAlreadyBuilt     = sterrors.New("quicflow: build method already called")
	ErrDuplicateBinding = sterrors.New("quicflow: message type already bound")
	ErrShutdown         = sterrors.New("quicflow: session has been shut down")
	ErrHandlerRequired  = sterrors.New("quicflow: handler factory is required")
	ErrTypeNameRequired = sterrors.New("quicflow: message type name is required")
	ErrPointerNeeded    = sterrors.New("quicflow: handler payload type must be a pointer")
	ErrLoggerRequired   = sterrors.New("quicflow: logger is required")
	ErrSourceRequired   = sterrors.New("quicflow: settings source is required")
)

// ConfigError reports an invalid builder or session configuration. Op names
// the offending call or build stage; Err holds the underlying cause, which
// may be one of the sentinel errors above.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return "quicflow: configuration: " + e.Err.Error()
	}
	return "quicflow: configuration: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a configuration failure of the named operation.
func NewConfigError(op string, err error) *ConfigError {
	return &ConfigError{Op: op, Err: err}
}

// SettingsError reports a settings source that could not be read or parsed.
// Absent files in the default search locations are skipped silently; every
// other load failure surfaces as a SettingsError naming the source.
type SettingsError struct {
	Source string
	Err    error
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("quicflow: settings source %q: %v", e.Source, e.Err)
}

func (e *SettingsError) Unwrap() error { return e.Err }
