// Package sockopt provides typed session option keys and ordered option
// sets. Options are applied in insertion order; setting a key again
// replaces its value but keeps the key's original position, so later
// writes cannot reorder earlier tuning decisions.
package sockopt

import (
	"fmt"

	"github.com/drblury/quicflow/transport"
)

// Key is a typed option. Keys are compared by identity, so two keys with
// the same display name are still distinct options. Use the package-level
// key variables; custom keys can be created with NewKey.
type Key struct {
	name  string
	check func(value any) error
	apply func(t *transport.Tuning, value any)
}

// NewKey creates a custom option key. check validates a candidate value;
// apply writes the validated value into the tuning target.
func NewKey(name string, check func(value any) error, apply func(t *transport.Tuning, value any)) *Key {
	if check == nil || apply == nil {
		panic("quicflow: option key needs check and apply funcs")
	}
	return &Key{name: name, check: check, apply: apply}
}

// Name returns the key's display name.
func (k *Key) Name() string { return k.name }

// Check validates value for this key without applying it.
func (k *Key) Check(value any) error { return k.check(value) }

func (k *Key) String() string { return k.name }

// Entry is one key/value pair in a Set, in set order.
type Entry struct {
	Key   *Key
	Value any
}

// Set is an ordered collection of option entries. The zero value is not
// usable; call NewSet.
type Set struct {
	order   []*Key
	entries map[*Key]any
}

// NewSet returns an empty option set.
func NewSet() *Set {
	return &Set{entries: map[*Key]any{}}
}

// Put stores value under key. If the key is already present its value is
// replaced and its original position kept; otherwise the key is appended.
// The value is validated at apply time, not here, so an invalid value
// surfaces as a build error rather than a panic at configuration time.
func (s *Set) Put(key *Key, value any) *Set {
	if key == nil {
		panic("quicflow: option key cannot be nil")
	}
	if _, present := s.entries[key]; !present {
		s.order = append(s.order, key)
	}
	s.entries[key] = value
	return s
}

// PutAll copies every entry of other into s, following Put semantics entry
// by entry in other's order.
func (s *Set) PutAll(other *Set) *Set {
	if other == nil {
		return s
	}
	for _, key := range other.order {
		s.Put(key, other.entries[key])
	}
	return s
}

// Has reports whether key is present.
func (s *Set) Has(key *Key) bool {
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of entries.
func (s *Set) Len() int {
	return len(s.order)
}

// Entries returns the entries in set order.
func (s *Set) Entries() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, Entry{Key: key, Value: s.entries[key]})
	}
	return out
}

// Clone returns an independent copy of s preserving order.
func (s *Set) Clone() *Set {
	out := NewSet()
	if s == nil {
		return out
	}
	out.order = append(out.order, s.order...)
	for key, value := range s.entries {
		out.entries[key] = value
	}
	return out
}

// Apply validates and applies every entry, in set order, onto the tuning
// target. The first invalid value stops the walk.
func (s *Set) Apply(t *transport.Tuning) error {
	for _, key := range s.order {
		value := s.entries[key]
		if err := key.check(value); err != nil {
			return err
		}
		key.apply(t, value)
	}
	return nil
}

func (s *Set) String() string {
	return fmt.Sprintf("sockopt.Set(%d entries)", s.Len())
}
