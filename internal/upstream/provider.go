// Package upstream resolves provider names into addressable backends and keeps
// the per-gateway caches (connection pool, health results) built on top of them.
package upstream

import (
	"errors"
	"strings"
)

var (
	// ErrProviderNotFound is returned when a name is neither a managed-proxy
	// provider nor a configured API provider.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrMissingAuthToken is returned by pre-flight checks when an API
	// provider's auth environment variable is empty.
	ErrMissingAuthToken = errors.New("missing auth token")
)

type ProviderType string

const (
	ProviderTypeManagedProxy ProviderType = "managed-proxy"
	ProviderTypeAPI          ProviderType = "api"
)

// AdapterKind selects the wire dialect used to talk to a provider.
type AdapterKind string

const (
	AdapterAnthropic  AdapterKind = "anthropic"
	AdapterOpenAI     AdapterKind = "openai"
	AdapterOpenRouter AdapterKind = "openrouter"
	AdapterCustom     AdapterKind = "custom"
)

// ResolvedProvider carries everything an adapter needs to address a backend.
type ResolvedProvider struct {
	Name      string            `json:"name"`
	Type      ProviderType      `json:"type"`
	Adapter   AdapterKind       `json:"adapter"`
	BaseURL   string            `json:"base_url"`
	AuthToken string            `json:"-"`
	AuthEnv   string            `json:"auth_env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// ModelsURL is the model-listing endpoint used for liveness probes and the
// /v1/models passthrough.
func (p *ResolvedProvider) ModelsURL() string {
	base := strings.TrimRight(p.BaseURL, "/")
	if p.Type == ProviderTypeManagedProxy || p.Adapter == AdapterAnthropic {
		return base + "/v1/models"
	}

	return strings.TrimSuffix(base, "/chat/completions") + "/models"
}

// Resolver turns a provider name into a descriptor. Both Registry and Pool
// implement it.
type Resolver interface {
	Resolve(name string) (*ResolvedProvider, error)
}
