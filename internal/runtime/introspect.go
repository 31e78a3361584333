package runtime

import (
	"net/http"

	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
)

// registerIntrospection exposes read-only dispatch state next to the
// Prometheus exposition. Only wired when a metrics port is configured.
func (e *Engine) registerIntrospection() {
	e.registerHTTPHandler(e.conf.MetricsPort, "/api/handlers", http.HandlerFunc(e.handleGetHandlers))
	e.registerHTTPHandler(e.conf.MetricsPort, "/api/stats", http.HandlerFunc(e.handleGetStats))
}

func (e *Engine) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := codecpkg.Encode(w, e.Handlers()); err != nil {
		e.logger.Error("failed to encode handler info", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (e *Engine) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handlers, malformed, unbound, undeliverable := e.stats.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	err := codecpkg.Encode(w, map[string]any{
		"handlers":      len(handlers),
		"connections":   e.conns.len(),
		"malformed":     malformed,
		"unbound":       unbound,
		"undeliverable": undeliverable,
	})
	if err != nil {
		e.logger.Error("failed to encode dispatch stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
