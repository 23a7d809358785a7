package providers

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

// Adapter translates between the Anthropic Messages wire format and one
// provider dialect.
type Adapter interface {
	Kind() upstream.AdapterKind
	Endpoint(provider *upstream.ResolvedProvider) string
	Headers(provider *upstream.ResolvedProvider, inbound http.Header) http.Header
	TransformRequest(body []byte, targetModel string, provider *upstream.ResolvedProvider) ([]byte, error)
	TransformResponse(body []byte) ([]byte, error)
	NewStreamTranslator(model string) StreamTranslator
}

// StreamTranslator converts one upstream SSE line at a time. It is stateful
// and must not be shared between requests.
type StreamTranslator interface {
	// TransformStreamChunk returns the bytes to relay for line, or nil.
	TransformStreamChunk(line string) []byte
	// Finish returns whatever is needed to close the stream after upstream EOF.
	Finish() []byte
}

// Registry maps adapter kinds to adapter instances.
type Registry struct {
	adapters map[upstream.AdapterKind]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[upstream.AdapterKind]Adapter),
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Kind()] = adapter
}

// Get retrieves an adapter by kind
func (r *Registry) Get(kind upstream.AdapterKind) (Adapter, bool) {
	adapter, exists := r.adapters[kind]
	return adapter, exists
}

// ForProvider returns the adapter serving the provider's adapter kind.
func (r *Registry) ForProvider(provider *upstream.ResolvedProvider) (Adapter, error) {
	adapter, ok := r.Get(provider.Adapter)
	if !ok {
		return nil, fmt.Errorf("no adapter %q for provider %s", provider.Adapter, provider.Name)
	}

	return adapter, nil
}

// List returns all registered adapter kinds
func (r *Registry) List() []string {
	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	return kinds
}

// Initialize registers all built-in adapters
func (r *Registry) Initialize() {
	openai := NewOpenAIAdapter()

	r.Register(NewAnthropicAdapter())
	r.Register(openai)
	r.Register(NewOpenRouterAdapter(openai))
	r.Register(NewCustomAdapter(openai))
}

func setProviderHeaders(h http.Header, provider *upstream.ResolvedProvider) {
	h.Set("Content-Type", ContentTypeJSON)

	if provider.AuthToken != "" {
		h.Set("Authorization", "Bearer "+provider.AuthToken)
	}

	for k, v := range provider.Headers {
		h.Set(k, v)
	}
}
