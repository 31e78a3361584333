package settings

import (
	"fmt"
	"strconv"
	"time"

	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
)

// Resolve loads every source in order and merges them key by key, later
// sources winning. A source failure aborts resolution with a SettingsError
// naming the source.
func Resolve(sources ...Source) (*View, error) {
	merged := map[string]string{}
	for _, src := range sources {
		if src == nil {
			continue
		}
		layer, err := src.Load()
		if err != nil {
			return nil, &errspkg.SettingsError{Source: src.Name(), Err: err}
		}
		for k, v := range layer {
			merged[k] = v
		}
	}
	return &View{values: merged}, nil
}

// View is an immutable snapshot of resolved settings.
type View struct {
	values map[string]string
}

// Get returns the raw value for key and whether it was present.
func (v *View) Get(key string) (string, bool) {
	val, ok := v.values[key]
	return val, ok
}

// Has reports whether key is present.
func (v *View) Has(key string) bool {
	_, ok := v.values[key]
	return ok
}

// GetString returns the value for key, or fallback when absent.
func (v *View) GetString(key, fallback string) string {
	if val, ok := v.values[key]; ok {
		return val
	}
	return fallback
}

// GetInt returns the value for key parsed as an int, or fallback when
// absent. A present but unparseable value errors.
func (v *View) GetInt(key string, fallback int) (int, error) {
	val, ok := v.values[key]
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %q is not an integer", key, val)
	}
	return n, nil
}

// GetBool returns the value for key parsed as a bool, or fallback when
// absent.
func (v *View) GetBool(key string, fallback bool) (bool, error) {
	val, ok := v.values[key]
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("setting %s: %q is not a boolean", key, val)
	}
	return b, nil
}

// GetDuration returns the value for key parsed as a time.Duration, or
// fallback when absent. Bare integers are taken as seconds.
func (v *View) GetDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := v.values[key]
	if !ok {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %q is not a duration", key, val)
	}
	return d, nil
}

// Keys returns the present keys in sorted order.
func (v *View) Keys() []string {
	return sortedKeys(v.values)
}

// Len returns the number of resolved keys.
func (v *View) Len() int {
	return len(v.values)
}

// All returns a copy of every resolved pair.
func (v *View) All() map[string]string {
	out := make(map[string]string, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

func (v *View) String() string {
	return fmt.Sprintf("settings(%d keys)", len(v.values))
}
