package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

const AnthropicVersion = "2023-06-01"

// AnthropicAdapter forwards Anthropic Messages traffic unchanged apart from
// the target model. Managed-proxy providers use it because the proxy already
// normalizes vendor formats.
type AnthropicAdapter struct{}

func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{}
}

func (a *AnthropicAdapter) Kind() upstream.AdapterKind {
	return upstream.AdapterAnthropic
}

func (a *AnthropicAdapter) Endpoint(provider *upstream.ResolvedProvider) string {
	return strings.TrimSuffix(provider.BaseURL, "/") + "/v1/messages"
}

func (a *AnthropicAdapter) Headers(provider *upstream.ResolvedProvider, inbound http.Header) http.Header {
	h := make(http.Header)
	h.Set("anthropic-version", AnthropicVersion)

	if beta := inbound.Get("anthropic-beta"); beta != "" {
		h.Set("anthropic-beta", beta)
	}

	setProviderHeaders(h, provider)

	return h
}

func (a *AnthropicAdapter) TransformRequest(body []byte, targetModel string, _ *upstream.ResolvedProvider) ([]byte, error) {
	var request map[string]json.RawMessage
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Anthropic request: %w", err)
	}

	model, err := json.Marshal(targetModel)
	if err != nil {
		return nil, err
	}
	request["model"] = model

	return json.Marshal(request)
}

func (a *AnthropicAdapter) TransformResponse(body []byte) ([]byte, error) {
	return body, nil
}

func (a *AnthropicAdapter) NewStreamTranslator(string) StreamTranslator {
	return passthroughTranslator{}
}

// passthroughTranslator relays every line as is, blank separators included.
type passthroughTranslator struct{}

func (passthroughTranslator) TransformStreamChunk(line string) []byte {
	return []byte(line + "\n")
}

func (passthroughTranslator) Finish() []byte {
	return nil
}
