package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// Paths the CLI client posts usage telemetry to when its base URL points at
// the gateway. They are acknowledged locally and never routed upstream.
var telemetryPaths = []string{
	"/api/claude_code/metrics",
	"/api/event_logging/batch",
	"/v1/initialize",
	"/v1/log_event",
	"/v1/rgstr",
}

type TelemetrySinkMiddleware struct {
	logger *slog.Logger
}

func NewTelemetrySinkMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tsm := &TelemetrySinkMiddleware{
		logger: logger,
	}

	return tsm.middleware
}

func (tsm *TelemetrySinkMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isTelemetryRequest(r.URL.Path) {
			tsm.logger.Debug("Acknowledged client telemetry", "path", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"accepted_count":0,"rejected_count":0}`))

			return
		}

		next.ServeHTTP(w, r)
	})
}

func isTelemetryRequest(path string) bool {
	for _, p := range telemetryPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}
