package runtime

import (
	sterrors "errors"
	"fmt"
	"sort"
	"sync"

	transportapi "github.com/drblury/quicflow/transport"
)

// connTable tracks live peer connections by id. Outbound messages are
// routed through it, and shutdown closes whatever is left in it.
type connTable struct {
	mu    sync.RWMutex
	conns map[string]transportapi.Conn
}

func newConnTable() *connTable {
	return &connTable{conns: map[string]transportapi.Conn{}}
}

func (t *connTable) add(id string, conn transportapi.Conn) {
	t.mu.Lock()
	t.conns[id] = conn
	t.mu.Unlock()
}

func (t *connTable) get(id string) (transportapi.Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.conns[id]
	return conn, ok
}

// remove takes a connection out of the table without closing it.
func (t *connTable) remove(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *connTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

func (t *connTable) ids() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *connTable) closeAll() error {
	t.mu.Lock()
	conns := t.conns
	t.conns = map[string]transportapi.Conn{}
	t.mu.Unlock()

	var errs []error
	for id, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", id, err))
		}
	}
	return sterrors.Join(errs...)
}
