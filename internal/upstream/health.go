package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	DefaultHealthTTL    = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// HealthResult is the outcome of one liveness probe. A fresh probe replaces
// the cached result for that provider.
type HealthResult struct {
	Provider  string    `json:"provider"`
	Healthy   bool      `json:"healthy"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthStats struct {
	Entries   int            `json:"entries"`
	Healthy   int            `json:"healthy"`
	Unhealthy int            `json:"unhealthy"`
	Results   []HealthResult `json:"results"`
}

// HealthChecker probes a provider's model-listing endpoint and caches the
// result per provider name for a short TTL.
type HealthChecker struct {
	client   *http.Client
	logger   *slog.Logger
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	observer func(*HealthResult)

	mu    sync.Mutex
	cache map[string]*HealthResult
}

type HealthOption func(*HealthChecker)

func WithHealthTTL(d time.Duration) HealthOption {
	return func(h *HealthChecker) { h.ttl = d }
}

func WithProbeTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) { h.timeout = d }
}

func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthChecker) { h.now = now }
}

func WithHealthClient(client *http.Client) HealthOption {
	return func(h *HealthChecker) { h.client = client }
}

// WithHealthObserver registers a callback invoked after every fresh probe.
func WithHealthObserver(fn func(*HealthResult)) HealthOption {
	return func(h *HealthChecker) { h.observer = fn }
}

func NewHealthChecker(logger *slog.Logger, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		client:  http.DefaultClient,
		logger:  logger,
		ttl:     DefaultHealthTTL,
		timeout: DefaultProbeTimeout,
		now:     time.Now,
		cache:   make(map[string]*HealthResult),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Check returns the cached result while it is younger than the TTL, otherwise
// probes the provider and overwrites the cache entry.
func (h *HealthChecker) Check(ctx context.Context, provider *ResolvedProvider) *HealthResult {
	h.mu.Lock()
	cached, ok := h.cache[provider.Name]
	h.mu.Unlock()

	if ok && h.now().Sub(cached.CheckedAt) < h.ttl {
		return cached
	}

	result := h.probe(ctx, provider)

	h.mu.Lock()
	h.cache[provider.Name] = result
	h.mu.Unlock()

	if h.observer != nil {
		h.observer(result)
	}

	return result
}

// probe outlives the caller's cancellation: the result is cached for every
// request, so only the probe timeout bounds it.
func (h *HealthChecker) probe(ctx context.Context, provider *ResolvedProvider) *HealthResult {
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	result := &HealthResult{Provider: provider.Name}
	url := provider.ModelsURL()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("build health request: %v", err)
		result.CheckedAt = h.now()
		return result
	}

	if provider.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+provider.AuthToken)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	latency := time.Since(start)
	result.CheckedAt = h.now()

	if err != nil {
		result.Error = err.Error()
		h.logger.Warn("Health check failed", "provider", provider.Name, "url", url, "error", err)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = resp.Status
		h.logger.Warn("Health check failed", "provider", provider.Name, "url", url, "status", resp.StatusCode)
		return result
	}

	result.Healthy = true
	result.LatencyMs = latency.Milliseconds()
	h.logger.Debug("Health check passed", "provider", provider.Name, "latency", latency)

	return result
}

func (h *HealthChecker) Invalidate(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.cache, name)
}

func (h *HealthChecker) InvalidateAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cache = make(map[string]*HealthResult)
}

func (h *HealthChecker) Stats() HealthStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HealthStats{Entries: len(h.cache)}
	for _, result := range h.cache {
		if result.Healthy {
			stats.Healthy++
		} else {
			stats.Unhealthy++
		}
		stats.Results = append(stats.Results, *result)
	}

	sort.Slice(stats.Results, func(i, j int) bool {
		return stats.Results[i].Provider < stats.Results[j].Provider
	})

	return stats
}
