// Package codec defines the payload serialization contract and a process
// level registry of named codecs. The wire format records each codec's
// numeric id, so peers can decode messages encoded with any registered
// codec regardless of their own default.
package codec

import (
	"fmt"
	"sort"
	"sync"
)

// Codec serializes message payloads for transport.
type Codec interface {
	// Name is the registry key, also stamped into message metadata.
	Name() string
	// ID is the single-byte wire identifier for this codec.
	ID() byte
	// ContentType describes the encoded form, e.g. "application/cbor".
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	registryMu sync.RWMutex
	byName     = map[string]Codec{}
	byID       = map[byte]Codec{}
)

// Register makes a codec available by name and wire id. Codecs register
// themselves in init, so a duplicate registration is a programming error
// and panics.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if c == nil {
		panic("quicflow: cannot register nil codec")
	}
	if _, dup := byName[c.Name()]; dup {
		panic(fmt.Sprintf("quicflow: codec %q registered twice", c.Name()))
	}
	if prev, dup := byID[c.ID()]; dup {
		panic(fmt.Sprintf("quicflow: codec id %d already taken by %q", c.ID(), prev.Name()))
	}
	byName[c.Name()] = c
	byID[c.ID()] = c
}

// Get returns the codec registered under name.
func Get(name string) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	c, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("quicflow: unknown codec %q", name)
	}
	return c, nil
}

// ByID returns the codec registered under the given wire id.
func ByID(id byte) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	c, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("quicflow: unknown codec id %d", id)
	}
	return c, nil
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForEncoding maps the binary/text encoding toggle onto a codec name.
func ForEncoding(binary bool) string {
	if binary {
		return NameCBOR
	}
	return NameJSON
}
