// Package settings resolves session configuration from layered sources:
// built-in defaults, TOML files in conventional locations, application
// supplied sources, and finally command-line arguments. Later sources win
// key by key.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Well-known settings keys consulted by the session builder. Applications
// may define additional keys freely; unknown keys are preserved in the
// resolved view.
const (
	KeyHost                 = "host"
	KeyPort                 = "port"
	KeyMetricsPort          = "metrics.port"
	KeyRetryMaxRetries      = "retry.max_retries"
	KeyRetryInitialInterval = "retry.initial_interval"
	KeyRetryMaxInterval     = "retry.max_interval"
)

// Source yields a flat key/value layer during resolution.
type Source interface {
	// Name identifies the source in error messages, e.g. a file path.
	Name() string

	// Load returns the source's key/value pairs. Nested structure is
	// flattened to dotted keys before return.
	Load() (map[string]string, error)
}

// File is a TOML file source that must exist and parse.
func File(path string) Source {
	return fileSource{path: path, optional: false}
}

// OptionalFile is a TOML file source that is skipped silently when the
// file does not exist. Parse failures still error.
func OptionalFile(path string) Source {
	return fileSource{path: path, optional: true}
}

// Map is a fixed in-memory source, used for programmatic defaults.
func Map(name string, values map[string]string) Source {
	return mapSource{name: name, values: values}
}

// Args parses command-line style arguments into a source. Supported forms
// are "--key value", "--key=value" and bare "--key" (which yields "true").
// Single-dash flags work the same way. Tokens that are not flags are
// ignored.
func Args(args []string) Source {
	return argsSource{args: args}
}

// DefaultLocations returns the conventional TOML locations for a settings
// name, least specific first: /etc, /opt/local/etc, the home directory
// (dot-prefixed), then the working directory. All are optional.
func DefaultLocations(name string) []Source {
	file := name + ".toml"
	locations := []Source{
		OptionalFile(filepath.Join("/etc", file)),
		OptionalFile(filepath.Join("/opt/local/etc", file)),
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, OptionalFile(filepath.Join(home, "."+file)))
	}
	locations = append(locations, OptionalFile(file))
	return locations
}

type fileSource struct {
	path     string
	optional bool
}

func (f fileSource) Name() string { return f.path }

func (f fileSource) Load() (map[string]string, error) {
	raw := map[string]any{}
	if _, err := toml.DecodeFile(f.path, &raw); err != nil {
		if f.optional && os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := map[string]string{}
	flatten("", raw, out)
	return out, nil
}

type mapSource struct {
	name   string
	values map[string]string
}

func (m mapSource) Name() string { return m.name }

func (m mapSource) Load() (map[string]string, error) {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

type argsSource struct {
	args []string
}

func (a argsSource) Name() string { return "args" }

func (a argsSource) Load() (map[string]string, error) {
	out := map[string]string{}
	for i := 0; i < len(a.args); i++ {
		arg := a.args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		key := strings.TrimLeft(arg, "-")
		if key == "" {
			continue
		}
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			out[key[:eq]] = key[eq+1:]
			continue
		}
		if i+1 < len(a.args) && !strings.HasPrefix(a.args[i+1], "-") {
			out[key] = a.args[i+1]
			i++
			continue
		}
		out[key] = "true"
	}
	return out, nil
}

// flatten lowers nested TOML tables into dotted keys and stringifies leaf
// values. Arrays become comma-joined lists.
func flatten(prefix string, value any, out map[string]string) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			childKey := key
			if prefix != "" {
				childKey = prefix + "." + key
			}
			flatten(childKey, child, out)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringify(item))
		}
		out[prefix] = strings.Join(parts, ",")
	default:
		out[prefix] = stringify(v)
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// sortedKeys is shared by View.Keys and tests.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
