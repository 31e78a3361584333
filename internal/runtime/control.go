package runtime

import (
	"sync/atomic"

	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
)

// Control wraps a built session value with a shutdown latch. Get hands out
// the value until Shutdown runs; Shutdown releases the session's resources
// exactly once and is safe to call concurrently.
type Control[T any] struct {
	value T
	rel   *releaser
	down  atomic.Bool
}

func newControl[T any](value T, rel *releaser) *Control[T] {
	return &Control[T]{value: value, rel: rel}
}

// Get returns the controlled value. After Shutdown it returns the zero
// value and ErrShutdown.
func (c *Control[T]) Get() (T, error) {
	if c.down.Load() {
		var zero T
		return zero, errspkg.ErrShutdown
	}
	return c.value, nil
}

// Shutdown releases the session's resources in reverse acquisition order.
// The first caller performs the release; every later call returns nil
// without doing work.
func (c *Control[T]) Shutdown() error {
	if !c.down.CompareAndSwap(false, true) {
		return nil
	}
	if c.rel == nil {
		return nil
	}
	return c.rel.release()
}

// Down reports whether Shutdown has been called.
func (c *Control[T]) Down() bool {
	return c.down.Load()
}
