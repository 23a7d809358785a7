package providers

import (
	"net/http"

	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

const (
	OpenRouterReferer = "https://github.com/yeah705-lgtm/ccs-sub003"
	OpenRouterTitle   = "ccs"
)

// OpenRouterAdapter is the OpenAI dialect plus OpenRouter's app
// identification headers.
type OpenRouterAdapter struct {
	*OpenAIAdapter
}

func NewOpenRouterAdapter(base *OpenAIAdapter) *OpenRouterAdapter {
	return &OpenRouterAdapter{OpenAIAdapter: base}
}

func (a *OpenRouterAdapter) Kind() upstream.AdapterKind {
	return upstream.AdapterOpenRouter
}

func (a *OpenRouterAdapter) Headers(provider *upstream.ResolvedProvider, inbound http.Header) http.Header {
	h := a.OpenAIAdapter.Headers(provider, inbound)

	if h.Get("HTTP-Referer") == "" {
		h.Set("HTTP-Referer", OpenRouterReferer)
	}
	if h.Get("X-Title") == "" {
		h.Set("X-Title", OpenRouterTitle)
	}

	return h
}
