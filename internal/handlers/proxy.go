package handlers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
	"github.com/yeah705-lgtm/ccs-sub003/internal/metrics"
	"github.com/yeah705-lgtm/ccs-sub003/internal/middleware"
	"github.com/yeah705-lgtm/ccs-sub003/internal/providers"
	"github.com/yeah705-lgtm/ccs-sub003/internal/routing"
	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

const (
	DefaultForwardTimeout = 120 * time.Second

	maxStreamLine = 4 << 20
)

// ProxyOptions wires a ProxyHandler to one gateway instance.
type ProxyOptions struct {
	Profile        *config.RouterProfile
	Resolver       *routing.Resolver
	Health         routing.HealthGate
	Adapters       *providers.Registry
	Client         *http.Client
	ForwardTimeout time.Duration
	Tokens         *TokenCounter
	Metrics        *metrics.Collector
}

type ProxyHandler struct {
	profile        *config.RouterProfile
	resolver       *routing.Resolver
	health         routing.HealthGate
	adapters       *providers.Registry
	client         *http.Client
	forwardTimeout time.Duration
	tokens         *TokenCounter
	metrics        *metrics.Collector
	logger         *slog.Logger
}

func NewProxyHandler(opts ProxyOptions, logger *slog.Logger) *ProxyHandler {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = DefaultForwardTimeout
	}

	return &ProxyHandler{
		profile:        opts.Profile,
		resolver:       opts.Resolver,
		health:         opts.Health,
		adapters:       opts.Adapters,
		client:         opts.Client,
		forwardTimeout: opts.ForwardTimeout,
		tokens:         opts.Tokens,
		metrics:        opts.Metrics,
		logger:         logger,
	}
}

// exchange tracks one request through the pipeline for logging and metrics.
type exchange struct {
	start     time.Time
	requestID string
	tier      routing.Tier
	provider  string
	status    int
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ex := &exchange{
		start:     time.Now(),
		requestID: middleware.RequestIDFromContext(r.Context()),
		status:    http.StatusOK,
	}

	defer func() {
		if rec := recover(); rec != nil {
			h.fail(w, ex, http.StatusInternalServerError, ErrorTypeRouter, fmt.Sprintf("%v", rec), nil)
		}
		h.metrics.RecordRequest(string(ex.tier), ex.provider, ex.status, time.Since(ex.start))
	}()

	// received -> parsed
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, ex, http.StatusBadRequest, ErrorTypeInvalidRequest, fmt.Sprintf("failed to read request body: %v", err), nil)
		return
	}

	var request providers.MessagesRequest
	if err := json.Unmarshal(body, &request); err != nil {
		h.fail(w, ex, http.StatusBadRequest, ErrorTypeInvalidRequest, fmt.Sprintf("invalid JSON body: %v", err), nil)
		return
	}

	inputTokens := 0
	if h.tokens != nil {
		inputTokens = h.tokens.Count(request.PromptText())
		h.metrics.RecordInputTokens(inputTokens)
	}

	// routed
	ex.tier = routing.DetectTier(request.Model)

	route, attempts, err := h.route(r.Context(), ex.tier)
	if route != nil {
		ex.provider = route.Provider.Name
	}

	if err != nil {
		status, errType := routeErrorStatus(err)
		if attempts != nil {
			status, errType = http.StatusServiceUnavailable, ErrorTypeProviderUnavailable
		}
		h.fail(w, ex, status, errType, err.Error(), attempts)
		return
	}

	// health-gated
	if result := h.health.Check(r.Context(), route.Provider); !result.Healthy {
		h.fail(w, ex, http.StatusServiceUnavailable, ErrorTypeProviderUnavailable,
			fmt.Sprintf("provider %s is unhealthy: %s", route.Provider.Name, result.Error), nil)
		return
	}

	// adapted-out
	adapter, err := h.adapters.ForProvider(route.Provider)
	if err != nil {
		h.fail(w, ex, http.StatusInternalServerError, ErrorTypeRouter, err.Error(), nil)
		return
	}

	outBody, err := adapter.TransformRequest(body, route.TargetModel, route.Provider)
	if err != nil {
		h.fail(w, ex, http.StatusBadRequest, ErrorTypeInvalidRequest, fmt.Sprintf("failed to transform request: %v", err), nil)
		return
	}

	// forwarded
	ctx := r.Context()
	if !request.Stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.forwardTimeout)
		defer cancel()
	}

	endpoint := adapter.Endpoint(route.Provider)

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(outBody))
	if err != nil {
		h.fail(w, ex, http.StatusInternalServerError, ErrorTypeRouter, fmt.Sprintf("failed to create upstream request: %v", err), nil)
		return
	}

	upstreamReq.Header = adapter.Headers(route.Provider, r.Header)
	upstreamReq.Header.Set("Accept-Encoding", "gzip, br")

	h.logger.Info("Proxying request",
		"request_id", ex.requestID,
		"tier", route.Tier,
		"provider", route.Provider.Name,
		"model", route.TargetModel,
		"url", endpoint,
		"stream", request.Stream,
		"input_tokens", inputTokens,
	)

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		h.fail(w, ex, http.StatusBadGateway, ErrorTypeUpstream, fmt.Sprintf("upstream request failed: %v", err), nil)
		return
	}
	defer resp.Body.Close()

	bodyReader, err := decompressReader(resp)
	if err != nil {
		h.fail(w, ex, http.StatusBadGateway, ErrorTypeUpstream, fmt.Sprintf("decompression error: %v", err), nil)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(bodyReader)
		h.fail(w, ex, resp.StatusCode, ErrorTypeUpstream,
			fmt.Sprintf("upstream returned %s: %s", resp.Status, strings.TrimSpace(string(respBody))), nil)
		return
	}

	// adapted-in -> responded
	if request.Stream && providers.IsStreamingContentType(resp.Header.Get("Content-Type")) {
		h.relayStream(w, r, ex, resp, bodyReader, adapter.NewStreamTranslator(route.TargetModel))
		return
	}

	h.handleResponse(w, ex, resp, bodyReader, adapter)
}

// route picks the provider for tier. A tier with fallback
// entries is walked in order; otherwise its primary is resolved directly.
// attempts is non-nil only when a walk found no healthy candidate.
func (h *ProxyHandler) route(ctx context.Context, tier routing.Tier) (*routing.ResolvedRoute, []routing.FallbackAttempt, error) {
	tc, err := routing.TierConfigFor(h.profile, tier)
	if err != nil {
		return nil, nil, err
	}

	if len(tc.Fallback) == 0 {
		route, err := h.resolver.ResolveTier(tier, h.profile)
		return route, nil, err
	}

	result := h.resolver.ResolveFallbackChain(ctx, tier, *tc)
	if result.Route == nil {
		return nil, result.Attempts, fmt.Errorf("all %d providers for tier %s are unavailable", len(result.Attempts), tier)
	}

	return result.Route, nil, nil
}

func (h *ProxyHandler) handleResponse(w http.ResponseWriter, ex *exchange, resp *http.Response, bodyReader io.Reader, adapter providers.Adapter) {
	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		h.fail(w, ex, http.StatusBadGateway, ErrorTypeUpstream, fmt.Sprintf("failed to read upstream response: %v", err), nil)
		return
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		h.fail(w, ex, http.StatusBadGateway, ErrorTypeUpstream, "upstream returned an empty response body", nil)
		return
	}

	transformed, err := adapter.TransformResponse(respBody)
	if err != nil {
		h.fail(w, ex, http.StatusBadGateway, ErrorTypeUpstream, fmt.Sprintf("failed to transform upstream response: %v", err), nil)
		return
	}

	copyHeaders(w, resp)
	w.Header().Set("Content-Type", providers.ContentTypeJSON)
	w.WriteHeader(resp.StatusCode)
	ex.status = resp.StatusCode

	if _, err := w.Write(transformed); err != nil {
		h.logger.Error("Failed to write response", "request_id", ex.requestID, "error", err)
	}

	h.logResponseTokens(ex, transformed)
}

func (h *ProxyHandler) relayStream(w http.ResponseWriter, r *http.Request, ex *exchange, resp *http.Response, bodyReader io.Reader, translator providers.StreamTranslator) {
	copyHeaders(w, resp)
	w.Header().Set("Content-Type", providers.ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)
	ex.status = resp.StatusCode
	flushResponse(w)

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if out := translator.TransformStreamChunk(line); len(out) > 0 {
			if _, err := w.Write(out); err != nil {
				h.logger.Warn("Client write failed, closing stream", "request_id", ex.requestID, "error", err)
				return
			}
			flushResponse(w)
		}
	}

	if err := scanner.Err(); err != nil {
		if r.Context().Err() != nil {
			h.logger.Info("Client disconnected, upstream stream cancelled", "request_id", ex.requestID, "provider", ex.provider)
			return
		}
		h.logger.Error("Stream scanning error", "request_id", ex.requestID, "error", err)
	}

	if out := translator.Finish(); len(out) > 0 {
		_, _ = w.Write(out)
		flushResponse(w)
	}

	h.logger.Info("Completed streaming response",
		"request_id", ex.requestID,
		"provider", ex.provider,
		"status", resp.StatusCode,
		"duration", time.Since(ex.start),
	)
}

func (h *ProxyHandler) fail(w http.ResponseWriter, ex *exchange, status int, errType, message string, attempts []routing.FallbackAttempt) {
	ex.status = status

	h.logger.Error("Request failed",
		"request_id", ex.requestID,
		"tier", ex.tier,
		"provider", ex.provider,
		"status", status,
		"type", errType,
		"message", message,
	)

	writeError(w, status, errType, message, attempts)
}

func (h *ProxyHandler) logResponseTokens(ex *exchange, respBody []byte) {
	var response struct {
		Model string                   `json:"model"`
		Usage providers.AnthropicUsage `json:"usage"`
	}

	logFields := []any{
		"request_id", ex.requestID,
		"provider", ex.provider,
		"status", ex.status,
		"duration", time.Since(ex.start),
	}

	if err := json.Unmarshal(respBody, &response); err == nil {
		logFields = append(logFields,
			"model", response.Model,
			"output_tokens", response.Usage.OutputTokens,
		)
	}

	h.logger.Info("Successful response", logFields...)
}

// decompressReader undoes the Content-Encoding we asked upstream for.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return bytes.NewReader(nil), nil
			}
			return nil, err
		}
		return gzipReader, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		// Skip compression headers since we handle decompression
		if key == "Content-Encoding" || key == "Content-Length" || key == "X-Request-Id" {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}

func flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

var _ routing.HealthGate = (*upstream.HealthChecker)(nil)
