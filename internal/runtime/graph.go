package runtime

import (
	sterrors "errors"
	"fmt"
	"sync"
)

// releaser accumulates cleanup functions during session assembly and runs
// them in reverse order on release. A failed build releases everything
// acquired so far; a successful build hands the releaser to the session's
// shutdown path. Release runs at most once.
type releaser struct {
	mu       sync.Mutex
	released bool
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func newReleaser() *releaser {
	return &releaser{}
}

// add registers a cleanup step. Steps run last-in first-out so resources
// close in reverse acquisition order.
func (r *releaser) add(name string, close func() error) {
	if close == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		// Shutdown already ran; close the latecomer immediately rather
		// than leak it.
		go close()
		return
	}
	r.closers = append(r.closers, namedCloser{name: name, close: close})
}

// release runs every registered cleanup in reverse order, joining their
// errors. Subsequent calls are no-ops returning nil.
func (r *releaser) release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return sterrors.Join(errs...)
}
