package providers

import (
	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

// CustomAdapter is the OpenAI dialect against a user-supplied endpoint. The
// configured base URL is the full completions URL.
type CustomAdapter struct {
	*OpenAIAdapter
}

func NewCustomAdapter(base *OpenAIAdapter) *CustomAdapter {
	return &CustomAdapter{OpenAIAdapter: base}
}

func (a *CustomAdapter) Kind() upstream.AdapterKind {
	return upstream.AdapterCustom
}

func (a *CustomAdapter) Endpoint(provider *upstream.ResolvedProvider) string {
	return provider.BaseURL
}
