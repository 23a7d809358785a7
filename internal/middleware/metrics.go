package middleware

import (
	"net/http"
	"strings"

	"github.com/yeah705-lgtm/ccs-sub003/internal/metrics"
)

func NewMetricsMiddleware(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			collector.RecordHTTPRequest(r.Method, routeLabel(r), wrapped.status)
		})
	}
}

// routeLabel uses the matched mux pattern so raw paths never become labels.
func routeLabel(r *http.Request) string {
	pattern := r.Pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}

	if pattern == "" {
		return "unmatched"
	}

	return pattern
}
