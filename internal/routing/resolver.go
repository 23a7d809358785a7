package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

var ErrTierNotConfigured = errors.New("tier not configured")

// HealthGate is the subset of upstream.HealthChecker the resolver needs.
type HealthGate interface {
	Check(ctx context.Context, provider *upstream.ResolvedProvider) *upstream.HealthResult
}

// ResolvedRoute is the concrete (tier, provider, target model) triple for one
// request.
type ResolvedRoute struct {
	Tier        Tier
	Provider    *upstream.ResolvedProvider
	TargetModel string
}

type FallbackAttempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// FallbackResult holds the chosen route, or nil when every candidate failed,
// together with one attempt per candidate tried.
type FallbackResult struct {
	Route    *ResolvedRoute
	Attempts []FallbackAttempt
}

type Resolver struct {
	providers upstream.Resolver
	health    HealthGate
	logger    *slog.Logger
	observer  func(FallbackAttempt)
}

type ResolverOption func(*Resolver)

// WithAttemptObserver registers a callback run for every fallback attempt.
func WithAttemptObserver(fn func(FallbackAttempt)) ResolverOption {
	return func(r *Resolver) { r.observer = fn }
}

func NewResolver(providers upstream.Resolver, health HealthGate, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: providers,
		health:    health,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func TierConfigFor(profile *config.RouterProfile, tier Tier) (*config.TierConfig, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: no active profile", ErrTierNotConfigured)
	}

	var tc config.TierConfig
	switch tier {
	case TierOpus:
		tc = profile.Tiers.Opus
	case TierSonnet:
		tc = profile.Tiers.Sonnet
	case TierHaiku:
		tc = profile.Tiers.Haiku
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", ErrTierNotConfigured, tier)
	}

	if tc.Provider == "" {
		return nil, fmt.Errorf("%w: %s has no provider", ErrTierNotConfigured, tier)
	}

	return &tc, nil
}

// ResolveRoute classifies the model and resolves the tier's primary provider.
// It does not consult health.
func (r *Resolver) ResolveRoute(model string, profile *config.RouterProfile) (*ResolvedRoute, error) {
	return r.ResolveTier(DetectTier(model), profile)
}

// ResolveTier resolves the primary provider configured for tier.
func (r *Resolver) ResolveTier(tier Tier, profile *config.RouterProfile) (*ResolvedRoute, error) {
	tc, err := TierConfigFor(profile, tier)
	if err != nil {
		return nil, err
	}

	provider, err := r.providers.Resolve(tc.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve %s provider: %w", tier, err)
	}

	return &ResolvedRoute{
		Tier:        tier,
		Provider:    provider,
		TargetModel: tc.Model,
	}, nil
}

// ResolveFallbackChain tries the primary and then each fallback entry in
// order, depth first through nested fallbacks. The first candidate that
// resolves and reports healthy wins. Per-candidate failures are recorded in
// the attempt log, never returned as errors.
func (r *Resolver) ResolveFallbackChain(ctx context.Context, tier Tier, tc config.TierConfig) *FallbackResult {
	candidates := flattenChain(tc)
	result := &FallbackResult{Attempts: make([]FallbackAttempt, 0, len(candidates))}

	for _, candidate := range candidates {
		attempt := FallbackAttempt{Provider: candidate.Provider, Model: candidate.Model}

		provider, err := r.providers.Resolve(candidate.Provider)
		if err != nil {
			attempt.Error = err.Error()
			r.record(tier, attempt)
			result.Attempts = append(result.Attempts, attempt)
			continue
		}

		health := r.health.Check(ctx, provider)
		if !health.Healthy {
			attempt.Error = health.Error
			r.record(tier, attempt)
			result.Attempts = append(result.Attempts, attempt)
			continue
		}

		attempt.Success = true
		r.record(tier, attempt)
		result.Attempts = append(result.Attempts, attempt)
		result.Route = &ResolvedRoute{
			Tier:        tier,
			Provider:    provider,
			TargetModel: candidate.Model,
		}

		return result
	}

	return result
}

func (r *Resolver) record(tier Tier, attempt FallbackAttempt) {
	if attempt.Success {
		r.logger.Debug("Fallback candidate selected", "tier", tier, "provider", attempt.Provider, "model", attempt.Model)
	} else {
		r.logger.Warn("Fallback candidate failed",
			"tier", tier,
			"provider", attempt.Provider,
			"model", attempt.Model,
			"error", attempt.Error,
		)
	}

	if r.observer != nil {
		r.observer(attempt)
	}
}

func flattenChain(tc config.TierConfig) []config.TierConfig {
	out := []config.TierConfig{{Provider: tc.Provider, Model: tc.Model}}
	for _, fb := range tc.Fallback {
		out = append(out, flattenChain(fb)...)
	}
	return out
}

// ValidateProfileRoutes checks that every provider named by the profile, in
// primary and fallback positions, resolves. It performs no health checks.
func (r *Resolver) ValidateProfileRoutes(profile *config.RouterProfile) error {
	var errs []error

	for _, tier := range []Tier{TierOpus, TierSonnet, TierHaiku} {
		tc, err := TierConfigFor(profile, tier)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, candidate := range flattenChain(*tc) {
			if _, err := r.providers.Resolve(candidate.Provider); err != nil {
				errs = append(errs, fmt.Errorf("tier %s: %w", tier, err))
			}
		}
	}

	return errors.Join(errs...)
}

// ProfileProviders lists every provider name the profile references, primary
// and fallback, in tier order without duplicates.
func ProfileProviders(profile *config.RouterProfile) []string {
	var names []string
	seen := make(map[string]bool)

	for _, tier := range []Tier{TierOpus, TierSonnet, TierHaiku} {
		tc, err := TierConfigFor(profile, tier)
		if err != nil {
			continue
		}

		for _, candidate := range flattenChain(*tc) {
			if !seen[candidate.Provider] {
				seen[candidate.Provider] = true
				names = append(names, candidate.Provider)
			}
		}
	}

	return names
}
