package runtime

import (
	"fmt"
	"sort"

	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
	handlerspkg "github.com/drblury/quicflow/internal/runtime/handlers"
)

// MessageType names a wire-level message. Types with equal names are the
// same type; the wrapper exists so signatures say what a string means.
type MessageType struct {
	name string
}

// NewMessageType returns the message type for name.
func NewMessageType(name string) MessageType {
	return MessageType{name: name}
}

// Name returns the wire name of the type.
func (t MessageType) Name() string { return t.name }

func (t MessageType) String() string { return t.name }

// IsZero reports whether the type has no name.
func (t MessageType) IsZero() bool { return t.name == "" }

// Binding associates a message type with the factory that builds its
// handler.
type Binding struct {
	Type    MessageType
	Factory handlerspkg.Factory
}

// bindingTable collects bindings during configuration. Rebinding a type is
// an error surfaced immediately at bind time.
type bindingTable struct {
	order   []MessageType
	entries map[MessageType]handlerspkg.Factory
}

func newBindingTable() *bindingTable {
	return &bindingTable{entries: map[MessageType]handlerspkg.Factory{}}
}

func (b *bindingTable) add(t MessageType, factory handlerspkg.Factory) error {
	if t.IsZero() {
		return &errspkg.ConfigError{Op: "bind", Err: errspkg.ErrTypeNameRequired}
	}
	if factory == nil {
		return &errspkg.ConfigError{Op: fmt.Sprintf("bind %s", t), Err: errspkg.ErrHandlerRequired}
	}
	if _, dup := b.entries[t]; dup {
		return &errspkg.ConfigError{Op: fmt.Sprintf("bind %s", t), Err: errspkg.ErrDuplicateBinding}
	}
	b.order = append(b.order, t)
	b.entries[t] = factory
	return nil
}

// freeze snapshots the table into an immutable Bindings view.
func (b *bindingTable) freeze() *Bindings {
	entries := make([]Binding, 0, len(b.order))
	index := make(map[string]handlerspkg.Factory, len(b.order))
	for _, t := range b.order {
		entries = append(entries, Binding{Type: t, Factory: b.entries[t]})
		index[t.Name()] = b.entries[t]
	}
	return &Bindings{entries: entries, index: index}
}

// Bindings is the immutable set of message bindings a session was built
// with.
type Bindings struct {
	entries []Binding
	index   map[string]handlerspkg.Factory
}

// Len returns the number of bound types.
func (b *Bindings) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Entries returns the bindings in bind order.
func (b *Bindings) Entries() []Binding {
	if b == nil {
		return nil
	}
	out := make([]Binding, len(b.entries))
	copy(out, b.entries)
	return out
}

// Lookup returns the factory bound to the named type.
func (b *Bindings) Lookup(typeName string) (handlerspkg.Factory, bool) {
	if b == nil {
		return nil, false
	}
	factory, ok := b.index[typeName]
	return factory, ok
}

// Has reports whether the named type is bound.
func (b *Bindings) Has(typeName string) bool {
	_, ok := b.Lookup(typeName)
	return ok
}

// TypeNames returns the bound type names sorted alphabetically.
func (b *Bindings) TypeNames() []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.entries))
	for _, e := range b.entries {
		names = append(names, e.Type.Name())
	}
	sort.Strings(names)
	return names
}
