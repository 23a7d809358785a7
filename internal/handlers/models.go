package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
	"github.com/yeah705-lgtm/ccs-sub003/internal/providers"
	"github.com/yeah705-lgtm/ccs-sub003/internal/routing"
)

// ModelsHandler proxies the model list of the default tier's primary provider.
type ModelsHandler struct {
	profile  *config.RouterProfile
	resolver *routing.Resolver
	adapters *providers.Registry
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

func NewModelsHandler(opts ProxyOptions, logger *slog.Logger) *ModelsHandler {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = DefaultForwardTimeout
	}

	return &ModelsHandler{
		profile:  opts.Profile,
		resolver: opts.Resolver,
		adapters: opts.Adapters,
		client:   opts.Client,
		timeout:  opts.ForwardTimeout,
		logger:   logger,
	}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := h.resolver.ResolveTier(routing.DefaultTier, h.profile)
	if err != nil {
		status, errType := routeErrorStatus(err)
		writeError(w, status, errType, err.Error(), nil)
		return
	}

	adapter, err := h.adapters.ForProvider(route.Provider)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorTypeRouter, err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.Provider.ModelsURL(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorTypeRouter, err.Error(), nil)
		return
	}

	req.Header = adapter.Headers(route.Provider, r.Header)
	req.Header.Del("Content-Type")

	resp, err := h.client.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrorTypeUpstream, fmt.Sprintf("upstream request failed: %v", err), nil)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn("Failed to relay model list", "provider", route.Provider.Name, "error", err)
	}
}
