package runtime

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

var testPortCounter atomic.Int32

// nextTestPort hands out distinct ports so channel-transport tests never
// collide on the process-global address table.
func nextTestPort() int {
	return 7100 + int(testPortCounter.Add(1))
}
