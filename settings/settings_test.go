package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
)

func writeTOML(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveLaterSourceWins(t *testing.T) {
	view, err := Resolve(
		Map("defaults", map[string]string{"host": "127.0.0.1", "port": "8007"}),
		Map("override", map[string]string{"port": "9000"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := view.GetString("host", ""); got != "127.0.0.1" {
		t.Fatalf("host = %q", got)
	}
	if got := view.GetString("port", ""); got != "9000" {
		t.Fatalf("port = %q, want override to win", got)
	}
}

func TestResolveTOMLFile(t *testing.T) {
	path := writeTOML(t, "app.toml", `
host = "10.0.0.5"
port = 9010

[retry]
max_retries = 3
initial_interval = "250ms"

[metrics]
port = 9100

[features]
flags = ["fast", "safe"]
verbose = true
`)

	view, err := Resolve(File(path))
	if err != nil {
		t.Fatal(err)
	}

	if got := view.GetString(KeyHost, ""); got != "10.0.0.5" {
		t.Fatalf("host = %q", got)
	}
	port, err := view.GetInt(KeyPort, 0)
	if err != nil || port != 9010 {
		t.Fatalf("port = %d, err = %v", port, err)
	}
	retries, err := view.GetInt(KeyRetryMaxRetries, 0)
	if err != nil || retries != 3 {
		t.Fatalf("retries = %d, err = %v", retries, err)
	}
	interval, err := view.GetDuration(KeyRetryInitialInterval, 0)
	if err != nil || interval != 250*time.Millisecond {
		t.Fatalf("interval = %v, err = %v", interval, err)
	}
	metricsPort, err := view.GetInt(KeyMetricsPort, 0)
	if err != nil || metricsPort != 9100 {
		t.Fatalf("metrics port = %d, err = %v", metricsPort, err)
	}
	if got := view.GetString("features.flags", ""); got != "fast,safe" {
		t.Fatalf("flags = %q", got)
	}
	verbose, err := view.GetBool("features.verbose", false)
	if err != nil || !verbose {
		t.Fatalf("verbose = %v, err = %v", verbose, err)
	}
}

func TestResolveMissingRequiredFile(t *testing.T) {
	_, err := Resolve(File(filepath.Join(t.TempDir(), "absent.toml")))
	if err == nil {
		t.Fatalf("expected error for missing required file")
	}
	var serr *errspkg.SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettingsError, got %T: %v", err, err)
	}
	if serr.Source == "" {
		t.Fatalf("SettingsError does not name the source")
	}
}

func TestResolveOptionalFileSkippedWhenAbsent(t *testing.T) {
	view, err := Resolve(
		Map("defaults", map[string]string{"host": "localhost"}),
		OptionalFile(filepath.Join(t.TempDir(), "absent.toml")),
	)
	if err != nil {
		t.Fatalf("optional absent file should be skipped: %v", err)
	}
	if got := view.GetString("host", ""); got != "localhost" {
		t.Fatalf("host = %q", got)
	}
}

func TestResolveOptionalFileParseErrorSurfaces(t *testing.T) {
	path := writeTOML(t, "broken.toml", "host = [unclosed")
	_, err := Resolve(OptionalFile(path))
	if err == nil {
		t.Fatalf("expected parse error to surface for optional file")
	}
	var serr *errspkg.SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettingsError, got %T", err)
	}
}

func TestArgsSource(t *testing.T) {
	src := Args([]string{"--port", "9000", "--host=10.1.1.1", "--verbose", "ignored", "-n", "5"})
	layer, err := src.Load()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"port":    "9000",
		"host":    "10.1.1.1",
		"verbose": "true",
		"n":       "5",
	}
	for k, v := range want {
		if layer[k] != v {
			t.Fatalf("args[%s] = %q, want %q (all: %v)", k, layer[k], v, layer)
		}
	}
	if _, ok := layer["ignored"]; ok {
		t.Fatalf("non-flag token should be ignored: %v", layer)
	}
}

func TestArgsOverrideFiles(t *testing.T) {
	path := writeTOML(t, "app.toml", `port = 8007`)
	view, err := Resolve(File(path), Args([]string{"--port", "9999"}))
	if err != nil {
		t.Fatal(err)
	}
	port, err := view.GetInt(KeyPort, 0)
	if err != nil || port != 9999 {
		t.Fatalf("port = %d, err = %v", port, err)
	}
}

func TestDefaultLocationsAreOptional(t *testing.T) {
	// None of the conventional files for this name exist; resolution must
	// still succeed with an empty view.
	view, err := Resolve(DefaultLocations("quicflow-test-nonexistent-d41d8cd9")...)
	if err != nil {
		t.Fatalf("default locations must be optional: %v", err)
	}
	if view.Len() != 0 {
		t.Fatalf("expected empty view, got %v", view.All())
	}
}

func TestViewParsingErrors(t *testing.T) {
	view, err := Resolve(Map("m", map[string]string{
		"port":  "eight",
		"flag":  "maybe",
		"pause": "soon",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := view.GetInt("port", 0); err == nil {
		t.Fatalf("expected int parse error")
	}
	if _, err := view.GetBool("flag", false); err == nil {
		t.Fatalf("expected bool parse error")
	}
	if _, err := view.GetDuration("pause", 0); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestViewFallbacks(t *testing.T) {
	view, err := Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if got := view.GetString("host", "127.0.0.1"); got != "127.0.0.1" {
		t.Fatalf("fallback string = %q", got)
	}
	n, err := view.GetInt("port", 8007)
	if err != nil || n != 8007 {
		t.Fatalf("fallback int = %d, err = %v", n, err)
	}
	d, err := view.GetDuration("pause", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("fallback duration = %v, err = %v", d, err)
	}
}

func TestGetDurationBareSeconds(t *testing.T) {
	view, err := Resolve(Map("m", map[string]string{"pause": "30"}))
	if err != nil {
		t.Fatal(err)
	}
	d, err := view.GetDuration("pause", 0)
	if err != nil || d != 30*time.Second {
		t.Fatalf("bare integer duration = %v, err = %v", d, err)
	}
}

func TestViewKeysSorted(t *testing.T) {
	view, err := Resolve(Map("m", map[string]string{"b": "2", "a": "1", "c": "3"}))
	if err != nil {
		t.Fatal(err)
	}
	keys := view.Keys()
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}
