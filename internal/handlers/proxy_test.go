package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
	"github.com/yeah705-lgtm/ccs-sub003/internal/providers"
	"github.com/yeah705-lgtm/ccs-sub003/internal/routing"
	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func agyProfile() *config.RouterProfile {
	return &config.RouterProfile{Tiers: config.Tiers{
		Opus:   config.TierConfig{Provider: "agy", Model: "m1"},
		Sonnet: config.TierConfig{Provider: "agy", Model: "m2"},
		Haiku:  config.TierConfig{Provider: "agy", Model: "m3"},
	}}
}

type gatewayFixture struct {
	proxy  *ProxyHandler
	models *ModelsHandler
	health *upstream.HealthChecker
}

func newFixture(t *testing.T, upstreamURL string, profile *config.RouterProfile, apiProviders map[string]config.APIProvider, healthOpts ...upstream.HealthOption) *gatewayFixture {
	t.Helper()

	logger := testLogger()
	cfg := &config.Config{
		ManagedProxy: config.ManagedProxy{BaseURL: upstreamURL},
		Providers:    apiProviders,
	}

	pool := upstream.NewPool(upstream.NewRegistry(cfg), logger)
	t.Cleanup(pool.Clear)

	health := upstream.NewHealthChecker(logger, healthOpts...)
	adapters := providers.NewRegistry()
	adapters.Initialize()

	opts := ProxyOptions{
		Profile:        profile,
		Resolver:       routing.NewResolver(pool, health, logger),
		Health:         health,
		Adapters:       adapters,
		ForwardTimeout: 5 * time.Second,
	}

	return &gatewayFixture{
		proxy:  NewProxyHandler(opts, logger),
		models: NewModelsHandler(opts, logger),
		health: health,
	}
}

// fakeManagedProxy answers like the OAuth proxy for every managed provider.
func fakeManagedProxy(t *testing.T, messages http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/provider/{name}/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", r.PathValue("name"))
		_, _ = w.Write([]byte(`{"data":[{"id":"m1"},{"id":"m2"}]}`))
	})
	mux.HandleFunc("POST /api/provider/{name}/v1/messages", messages)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func echoAnthropic(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       req["model"],
		"content":     []any{map[string]any{"type": "text", "text": "hello from " + r.PathValue("name")}},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 3, "output_tokens": 4},
	})
}

func postMessages(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestProxy_HealthyManagedProvider(t *testing.T) {
	server := fakeManagedProxy(t, echoAnthropic)
	fx := newFixture(t, server.URL, agyProfile(), nil)

	rec := postMessages(t, fx.proxy, `{"model":"claude-opus-4","stream":false,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp providers.AnthropicResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "m1", resp.Model)
	require.NotEmpty(t, resp.Content)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.NotEmpty(t, resp.Content[0].Text)
}

func TestProxy_ProbeTimeoutReturns503(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/provider/agy/v1/models", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("POST /api/provider/agy/v1/messages", echoAnthropic)
	server := httptest.NewServer(mux)
	defer server.Close()

	fx := newFixture(t, server.URL, agyProfile(), nil, upstream.WithProbeTimeout(50*time.Millisecond))

	rec := postMessages(t, fx.proxy, `{"model":"claude-opus-4","stream":false,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "error", resp.Type)
	assert.Equal(t, ErrorTypeProviderUnavailable, resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "deadline exceeded")
	assert.Contains(t, resp.Error.Message, "agy")
}

func TestProxy_InvalidJSON(t *testing.T) {
	server := fakeManagedProxy(t, echoAnthropic)
	fx := newFixture(t, server.URL, agyProfile(), nil)

	rec := postMessages(t, fx.proxy, `{"model":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorTypeInvalidRequest, decodeError(t, rec).Error.Type)
}

func TestProxy_UnknownProvider(t *testing.T) {
	server := fakeManagedProxy(t, echoAnthropic)
	profile := agyProfile()
	profile.Tiers.Haiku = config.TierConfig{Provider: "ghost", Model: "x"}
	fx := newFixture(t, server.URL, profile, nil)

	rec := postMessages(t, fx.proxy, `{"model":"claude-haiku-4-5","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error.Message, "provider not found")
}

func TestProxy_FallbackToOpenAIProvider(t *testing.T) {
	t.Setenv("CCS_TEST_GLM_KEY", "sk-glm")

	var gotAuth atomic.Value
	openaiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v4/models":
			w.WriteHeader(http.StatusOK)
		case "/v4/chat/completions":
			gotAuth.Store(r.Header.Get("Authorization"))

			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"chatcmpl-1","model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":"echo %s"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
				req.Model, req.Messages[len(req.Messages)-1].Content)
		default:
			http.NotFound(w, r)
		}
	}))
	defer openaiServer.Close()

	// Managed proxy is down.
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer proxyServer.Close()

	profile := agyProfile()
	profile.Tiers.Opus.Fallback = []config.TierConfig{
		{Provider: "ghost", Model: "g"},
		{Provider: "glm", Model: "glm-4.6"},
	}

	fx := newFixture(t, proxyServer.URL, profile, map[string]config.APIProvider{
		"glm": {Adapter: config.AdapterOpenAI, BaseURL: openaiServer.URL + "/v4", AuthEnv: "CCS_TEST_GLM_KEY"},
	})

	rec := postMessages(t, fx.proxy, `{"model":"claude-opus-4","system":"be brief","messages":[{"role":"user","content":"ping"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp providers.AnthropicResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "glm-4.6", resp.Model)
	assert.Equal(t, "echo ping", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Bearer sk-glm", gotAuth.Load())
}

func TestProxy_FallbackExhausted(t *testing.T) {
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxyServer.Close()

	profile := agyProfile()
	profile.Tiers.Sonnet.Fallback = []config.TierConfig{
		{Provider: "gemini", Model: "g"},
		{Provider: "ghost", Model: "x"},
	}
	fx := newFixture(t, proxyServer.URL, profile, nil)

	rec := postMessages(t, fx.proxy, `{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, ErrorTypeProviderUnavailable, resp.Error.Type)
	require.Len(t, resp.Error.Attempts, 3)
	assert.Equal(t, "agy", resp.Error.Attempts[0].Provider)
	assert.Equal(t, "502 Bad Gateway", resp.Error.Attempts[0].Error)
	assert.Equal(t, "gemini", resp.Error.Attempts[1].Provider)
	assert.Contains(t, resp.Error.Attempts[2].Error, "provider not found")
}

func TestProxy_UpstreamErrorForwarded(t *testing.T) {
	server := fakeManagedProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})
	fx := newFixture(t, server.URL, agyProfile(), nil)

	rec := postMessages(t, fx.proxy, `{"model":"claude-opus-4","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, ErrorTypeUpstream, resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "slow down")
}

func TestProxy_EmptyUpstreamBodyIs502(t *testing.T) {
	server := fakeManagedProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	fx := newFixture(t, server.URL, agyProfile(), nil)

	rec := postMessages(t, fx.proxy, `{"model":"claude-opus-4","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error.Message, "empty")
}

func TestProxy_DecompressesUpstream(t *testing.T) {
	payload := `{"id":"msg_z","type":"message","role":"assistant","model":"m1","content":[{"type":"text","text":"zipped"}]}`

	testCases := []struct {
		encoding string
		encode   func(w io.Writer) io.WriteCloser
	}{
		{"gzip", func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }},
		{"br", func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) }},
	}

	for _, tc := range testCases {
		t.Run(tc.encoding, func(t *testing.T) {
			var accepted atomic.Value
			server := fakeManagedProxy(t, func(w http.ResponseWriter, r *http.Request) {
				accepted.Store(r.Header.Get("Accept-Encoding"))

				var buf bytes.Buffer
				enc := tc.encode(&buf)
				_, _ = enc.Write([]byte(payload))
				_ = enc.Close()

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Encoding", tc.encoding)
				_, _ = w.Write(buf.Bytes())
			})
			fx := newFixture(t, server.URL, agyProfile(), nil)

			rec := postMessages(t, fx.proxy, `{"model":"claude-opus-4","messages":[{"role":"user","content":"hi"}]}`)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.JSONEq(t, payload, rec.Body.String())
			assert.Empty(t, rec.Header().Get("Content-Encoding"))
			assert.Contains(t, accepted.Load(), "br")
		})
	}
}

func TestProxy_StreamPassthrough(t *testing.T) {
	stream := "event: message_start\ndata: {\"type\":\"message_start\"}\n\nevent: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	server := fakeManagedProxy(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(stream))
	})
	fx := newFixture(t, server.URL, agyProfile(), nil)

	rec := postMessages(t, fx.proxy, `{"model":"claude-opus-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, stream, rec.Body.String())
	assert.True(t, rec.Flushed)
}

// firstWriteRecorder signals once the handler has written body bytes.
type firstWriteRecorder struct {
	*httptest.ResponseRecorder
	once  sync.Once
	wrote chan struct{}
}

func (r *firstWriteRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseRecorder.Write(b)
	r.once.Do(func() { close(r.wrote) })
	return n, err
}

func TestProxy_StreamClientDisconnectCancelsUpstream(t *testing.T) {
	upstreamDone := make(chan error, 1)

	server := fakeManagedProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: message_start\ndata: {\"type\":\"message_start\"}\n\n"))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
			upstreamDone <- r.Context().Err()
		case <-time.After(5 * time.Second):
			upstreamDone <- fmt.Errorf("upstream request was never cancelled")
		}
	})
	fx := newFixture(t, server.URL, agyProfile(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude-opus-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`)).WithContext(ctx)
	rec := &firstWriteRecorder{ResponseRecorder: httptest.NewRecorder(), wrote: make(chan struct{})}

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		fx.proxy.ServeHTTP(rec, req)
	}()

	select {
	case <-rec.wrote:
	case <-time.After(5 * time.Second):
		t.Fatal("no stream data reached the client")
	}

	cancel()

	select {
	case err := <-upstreamDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("upstream did not see the disconnect")
	}

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the client went away")
	}

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "message_start")
}

func TestProxy_StreamTranslatesOpenAI(t *testing.T) {
	t.Setenv("CCS_TEST_OR_KEY", "sk-or")

	openaiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/models" {
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
			`data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		} {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
	defer openaiServer.Close()

	profile := agyProfile()
	profile.Tiers.Haiku = config.TierConfig{Provider: "or", Model: "qwen/qwen3"}

	fx := newFixture(t, "http://127.0.0.1:1", profile, map[string]config.APIProvider{
		"or": {Adapter: config.AdapterOpenRouter, BaseURL: openaiServer.URL + "/api/v1", AuthEnv: "CCS_TEST_OR_KEY"},
	})

	rec := postMessages(t, fx.proxy, `{"model":"claude-3-5-haiku-20241022","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, "event: message_start")
	assert.Contains(t, body, `"text":"hi"`)
	assert.Contains(t, body, `"stop_reason":"end_turn"`)
	assert.Equal(t, 1, strings.Count(body, "event: message_stop"))
	assert.NotContains(t, body, "[DONE]")
}

func TestModels_Passthrough(t *testing.T) {
	server := fakeManagedProxy(t, echoAnthropic)
	fx := newFixture(t, server.URL, agyProfile(), nil)

	rec := httptest.NewRecorder()
	fx.models.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agy", rec.Header().Get("X-Upstream"))
	assert.JSONEq(t, `{"data":[{"id":"m1"},{"id":"m2"}]}`, rec.Body.String())
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler("work", testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","profile":"work"}`, rec.Body.String())
}
