package runtime

import (
	"testing"
	"time"

	configpkg "github.com/drblury/quicflow/internal/runtime/config"
	"github.com/drblury/quicflow/sockopt"
	"github.com/drblury/quicflow/transport"
)

func newTestSessionConfig(role configpkg.Role) *SessionConfig {
	shared := sockopt.NewSet()
	shared.Put(sockopt.KeepAlivePeriod, 10*time.Second)

	serverOnly := sockopt.NewSet()
	serverOnly.Put(sockopt.AcceptBacklog, 32)

	clientOnly := sockopt.NewSet()
	clientOnly.Put(sockopt.WriteBufferSize, 2048)

	table := newBindingTable()
	table.add(NewMessageType("ping"), noopFactory())

	conf := &configpkg.Config{
		SettingsName:  "session-test",
		Transport:     "channel",
		Host:          "127.0.0.1",
		Port:          7007,
		AcceptorCount: 2,
		WorkerCount:   -1,
		Codec:         "cbor",
		Role:          role,
	}
	return newSessionConfig(conf, shared, serverOnly, clientOnly, table.freeze())
}

func TestSessionConfigMergedViews(t *testing.T) {
	sc := newTestSessionConfig(configpkg.RoleServer)

	var serverTuning transport.Tuning
	if err := sc.ServerOptions().Apply(&serverTuning); err != nil {
		t.Fatalf("apply server options: %v", err)
	}
	if serverTuning.AcceptBacklog != 32 || serverTuning.KeepAlivePeriod != 10*time.Second {
		t.Errorf("server view should merge shared and server options, got %+v", serverTuning)
	}
	if serverTuning.WriteBufferSize != 0 {
		t.Error("server view must not include client options")
	}

	var clientTuning transport.Tuning
	if err := sc.ClientOptions().Apply(&clientTuning); err != nil {
		t.Fatalf("apply client options: %v", err)
	}
	if clientTuning.WriteBufferSize != 2048 || clientTuning.KeepAlivePeriod != 10*time.Second {
		t.Errorf("client view should merge shared and client options, got %+v", clientTuning)
	}
	if clientTuning.AcceptBacklog != 0 {
		t.Error("client view must not include server options")
	}
}

func TestSessionConfigReturnsCopies(t *testing.T) {
	sc := newTestSessionConfig(configpkg.RoleClient)

	view := sc.SharedOptions()
	view.Put(sockopt.KeepAlivePeriod, time.Minute)

	var tuning transport.Tuning
	if err := sc.SharedOptions().Apply(&tuning); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if tuning.KeepAlivePeriod != 10*time.Second {
		t.Error("mutating a returned option set must not affect the snapshot")
	}

	conf := sc.Config()
	conf.Port = 9999
	if sc.Port() != 7007 {
		t.Error("mutating the returned config copy must not affect the snapshot")
	}
}

func TestSessionConfigAccessors(t *testing.T) {
	sc := newTestSessionConfig(configpkg.RoleServer)

	if sc.Role() != configpkg.RoleServer {
		t.Errorf("Role = %v", sc.Role())
	}
	if sc.Host() != "127.0.0.1" || sc.Port() != 7007 {
		t.Errorf("endpoint = %s:%d", sc.Host(), sc.Port())
	}
	if sc.Transport() != "channel" || sc.Codec() != "cbor" {
		t.Errorf("stack = %s/%s", sc.Transport(), sc.Codec())
	}
	if sc.AcceptorCount() != 2 {
		t.Errorf("AcceptorCount = %d", sc.AcceptorCount())
	}
	if sc.WorkerCount() < 1 {
		t.Errorf("WorkerCount should resolve the -1 sentinel, got %d", sc.WorkerCount())
	}
	if !sc.Bindings().Has("ping") {
		t.Error("bindings should carry the bound type")
	}
}
