package upstream

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
)

// ManagedProxyProviders are served by the external OAuth proxy, each under its
// own path segment of the proxy origin.
var ManagedProxyProviders = []string{"gemini", "codex", "agy", "qwen", "iflow", "kiro", "ghcp"}

func IsManagedProxy(name string) bool {
	return slices.Contains(ManagedProxyProviders, name)
}

// Registry resolves provider names against the fixed managed-proxy set first
// and the configured API providers second.
type Registry struct {
	proxyBaseURL string
	providers    map[string]config.APIProvider
	getenv       func(string) string
}

func NewRegistry(cfg *config.Config) *Registry {
	proxyBaseURL := cfg.ManagedProxy.BaseURL
	if proxyBaseURL == "" {
		proxyBaseURL = config.DefaultManagedProxyURL
	}

	providers := make(map[string]config.APIProvider, len(cfg.Providers))
	for name, p := range cfg.Providers {
		providers[name] = p
	}

	return &Registry{
		proxyBaseURL: strings.TrimRight(proxyBaseURL, "/"),
		providers:    providers,
		getenv:       os.Getenv,
	}
}

// Resolve never fails on a missing auth token; an unset variable shows up
// later as an unhealthy or unauthorized provider.
func (r *Registry) Resolve(name string) (*ResolvedProvider, error) {
	if IsManagedProxy(name) {
		return &ResolvedProvider{
			Name:    name,
			Type:    ProviderTypeManagedProxy,
			Adapter: AdapterAnthropic,
			BaseURL: r.proxyBaseURL + config.DefaultManagedProxyRoute + name,
		}, nil
	}

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	var token string
	if p.AuthEnv != "" {
		token = r.getenv(p.AuthEnv)
	}

	var headers map[string]string
	if len(p.Headers) > 0 {
		headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			headers[k] = v
		}
	}

	return &ResolvedProvider{
		Name:      name,
		Type:      ProviderTypeAPI,
		Adapter:   AdapterKind(p.Adapter),
		BaseURL:   strings.TrimRight(p.BaseURL, "/"),
		AuthToken: token,
		AuthEnv:   p.AuthEnv,
		Headers:   headers,
	}, nil
}

// ListProviders returns every resolvable provider name, managed-proxy names
// first, API providers sorted after them.
func (r *Registry) ListProviders() []string {
	names := make([]string, 0, len(ManagedProxyProviders)+len(r.providers))
	names = append(names, ManagedProxyProviders...)

	apiNames := make([]string, 0, len(r.providers))
	for name := range r.providers {
		if !IsManagedProxy(name) {
			apiNames = append(apiNames, name)
		}
	}
	sort.Strings(apiNames)

	return append(names, apiNames...)
}

func (r *Registry) GetAllProviders() []*ResolvedProvider {
	names := r.ListProviders()
	all := make([]*ResolvedProvider, 0, len(names))

	for _, name := range names {
		if p, err := r.Resolve(name); err == nil {
			all = append(all, p)
		}
	}

	return all
}

// CheckAuth reports ErrMissingAuthToken for an API provider whose token
// variable is unset. Managed-proxy providers authenticate on the proxy side.
func (r *Registry) CheckAuth(name string) error {
	p, err := r.Resolve(name)
	if err != nil {
		return err
	}

	if p.Type == ProviderTypeAPI && p.AuthToken == "" {
		if p.AuthEnv == "" {
			return fmt.Errorf("%w: provider %s has no auth_env configured", ErrMissingAuthToken, name)
		}
		return fmt.Errorf("%w: provider %s expects $%s", ErrMissingAuthToken, name, p.AuthEnv)
	}

	return nil
}
