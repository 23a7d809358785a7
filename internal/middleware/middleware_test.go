package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeah705-lgtm/ccs-sub003/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := New(mark("a"), mark("b")).Then(mark("c")).Handler(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestLogging_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "path=/v1/models")
	assert.Contains(t, buf.String(), "length=2")
}

func TestResponseWriter_Flushes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrap(rec)

	flusher, ok := any(rw).(http.Flusher)
	require.True(t, ok)
	flusher.Flush()

	assert.True(t, rec.Flushed)
	assert.Same(t, rw, wrap(rw))
}

func TestMetricsMiddleware_UsesPattern(t *testing.T) {
	collector := metrics.NewCollector()

	mux := http.NewServeMux()
	mux.Handle("GET /health", NewMetricsMiddleware(collector)(okHandler()))

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	count, err := testutil.GatherAndCount(collector.Registry(), "ccs_gateway_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTelemetrySink(t *testing.T) {
	reached := false
	handler := NewTelemetrySinkMiddleware(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/event_logging/batch", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, reached)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/messages", nil))
	assert.True(t, reached)
}

func TestAuth(t *testing.T) {
	testCases := []struct {
		name     string
		apiKey   string
		path     string
		headers  map[string]string
		expected int
	}{
		{"disabled", "", "/v1/messages", nil, http.StatusTeapot},
		{"health skips auth", "secret", "/health", nil, http.StatusTeapot},
		{"missing token", "secret", "/v1/messages", nil, http.StatusUnauthorized},
		{"x-api-key", "secret", "/v1/messages", map[string]string{"X-API-Key": "secret"}, http.StatusTeapot},
		{"bearer", "secret", "/v1/messages", map[string]string{"Authorization": "Bearer secret"}, http.StatusTeapot},
		{"wrong key", "secret", "/v1/messages", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthMiddleware(tc.apiKey, discardLogger())(okHandler())

			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.expected, rec.Code)
		})
	}
}

func TestAuth_ErrorEnvelope(t *testing.T) {
	handler := NewAuthMiddleware("secret", discardLogger())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "error", body.Type)
	assert.Equal(t, "authentication_error", body.Error.Type)
	assert.NotEmpty(t, body.Error.Message)
}
