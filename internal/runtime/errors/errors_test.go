package errors

import (
	sterrors "errors"
	"strings"
	"testing"
)

func TestConfigErrorWrapsSentinels(t *testing.T) {
	err := NewConfigError("BuildServer", ErrAlreadyBuilt)

	if !sterrors.Is(err, ErrAlreadyBuilt) {
		t.Error("ConfigError should match ErrAlreadyBuilt via errors.Is")
	}

	var cfgErr *ConfigError
	if !sterrors.As(err, &cfgErr) {
		t.Fatal("ConfigError should match via errors.As")
	}
	if cfgErr.Op != "BuildServer" {
		t.Errorf("Op = %q, want %q", cfgErr.Op, "BuildServer")
	}
}

func TestConfigErrorMessage(t *testing.T) {
	withOp := NewConfigError("OnPort", sterrors.New("port out of range"))
	if !strings.Contains(withOp.Error(), "OnPort") {
		t.Errorf("error message should name the operation, got %q", withOp.Error())
	}

	noOp := &ConfigError{Err: ErrDuplicateBinding}
	if !strings.Contains(noOp.Error(), "already bound") {
		t.Errorf("error message should carry the cause, got %q", noOp.Error())
	}
}

func TestSettingsErrorNamesSource(t *testing.T) {
	cause := sterrors.New("toml: line 3: expected value")
	err := &SettingsError{Source: "/etc/quicflow.toml", Err: cause}

	if !strings.Contains(err.Error(), "/etc/quicflow.toml") {
		t.Errorf("error message should name the source, got %q", err.Error())
	}
	if !sterrors.Is(err, cause) {
		t.Error("SettingsError should unwrap to its cause")
	}

	var settingsErr *SettingsError
	if !sterrors.As(err, &settingsErr) {
		t.Fatal("SettingsError should match via errors.As")
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrAlreadyBuilt,
		ErrDuplicateBinding,
		ErrShutdown,
		ErrHandlerRequired,
		ErrTypeNameRequired,
		ErrPointerNeeded,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && sterrors.Is(a, b) {
				t.Errorf("sentinel %v unexpectedly matches %v", a, b)
			}
		}
	}
}
