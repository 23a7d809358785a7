// Package service owns the gateway lifecycle: at most one gateway instance is
// active per Service, and starting a new one replaces the old.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
	"github.com/yeah705-lgtm/ccs-sub003/internal/handlers"
	"github.com/yeah705-lgtm/ccs-sub003/internal/metrics"
	"github.com/yeah705-lgtm/ccs-sub003/internal/providers"
	"github.com/yeah705-lgtm/ccs-sub003/internal/routing"
	"github.com/yeah705-lgtm/ccs-sub003/internal/server"
	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

var ErrNotRunning = errors.New("gateway not running")

type Status struct {
	Active    bool          `json:"active"`
	Profile   string        `json:"profile,omitempty"`
	Port      int           `json:"port,omitempty"`
	Addr      string        `json:"addr,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// gateway is one running server together with the caches it owns.
type gateway struct {
	server    *server.Server
	pool      *upstream.Pool
	health    *upstream.HealthChecker
	profile   string
	startedAt time.Time
}

type Service struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	active *gateway
}

func New(logger *slog.Logger) *Service {
	return &Service{
		logger: logger,
		now:    time.Now,
	}
}

// Preflight checks that the profile exists, that every provider it names
// resolves and has credentials, and that no fallback chain is cyclic.
func Preflight(cfg *config.Config, profileName string) (*config.RouterProfile, error) {
	profile, err := cfg.Profile(profileName)
	if err != nil {
		return nil, err
	}

	registry := upstream.NewRegistry(cfg)
	resolver := routing.NewResolver(registry, nil, slog.New(slog.DiscardHandler))

	errs := []error{
		resolver.ValidateProfileRoutes(profile),
		routing.ValidateFallbackChains(profile),
	}

	for _, name := range routing.ProfileProviders(profile) {
		if err := registry.CheckAuth(name); err != nil && !errors.Is(err, upstream.ErrProviderNotFound) {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profileName, err)
	}

	return profile, nil
}

// Start stops any running gateway, validates the profile and starts a new
// gateway on port. Port 0 binds a free port.
func (s *Service) Start(cfg *config.Config, profileName string, port int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.logger.Info("Stopping running gateway before restart", "profile", s.active.profile)
		if err := s.stopLocked(); err != nil {
			s.logger.Warn("Previous gateway did not stop cleanly", "error", err)
		}
	}

	if profileName == "" {
		profileName = cfg.ActiveProfile
	}

	profile, err := Preflight(cfg, profileName)
	if err != nil {
		return Status{}, err
	}

	collector := metrics.NewCollector()

	pool := upstream.NewPool(upstream.NewRegistry(cfg), s.logger)
	collector.RegisterPoolSize(pool.Size)

	health := upstream.NewHealthChecker(s.logger, upstream.WithHealthObserver(func(r *upstream.HealthResult) {
		collector.RecordHealth(r.Provider, r.Healthy)
	}))

	resolver := routing.NewResolver(pool, health, s.logger, routing.WithAttemptObserver(func(a routing.FallbackAttempt) {
		collector.RecordFallbackAttempt(a.Provider, a.Success)
	}))

	adapters := providers.NewRegistry()
	adapters.Initialize()

	var tokens *handlers.TokenCounter
	if cfg.TokenCounting() {
		tokens = handlers.NewTokenCounter(s.logger)
	}

	srv := server.New(server.Options{
		Host:        cfg.Host,
		Port:        port,
		ProfileName: profileName,
		APIKey:      cfg.APIKey,
		Proxy: handlers.ProxyOptions{
			Profile:        profile,
			Resolver:       resolver,
			Health:         health,
			Adapters:       adapters,
			Client:         newUpstreamClient(),
			ForwardTimeout: handlers.DefaultForwardTimeout,
			Tokens:         tokens,
			Metrics:        collector,
		},
	}, s.logger)

	if err := srv.Start(); err != nil {
		pool.Clear()
		return Status{}, err
	}

	s.active = &gateway{
		server:    srv,
		pool:      pool,
		health:    health,
		profile:   profileName,
		startedAt: s.now(),
	}

	return s.statusLocked(), nil
}

func newUpstreamClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: handlers.DefaultForwardTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   16,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Stop shuts the active gateway down and releases its pool and health cache.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return ErrNotRunning
	}

	return s.stopLocked()
}

func (s *Service) stopLocked() error {
	g := s.active
	s.active = nil

	err := g.server.Stop()
	g.pool.Clear()
	g.health.InvalidateAll()

	s.logger.Info("Gateway stopped", "profile", g.profile, "uptime", s.now().Sub(g.startedAt).Round(time.Second))

	return err
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.statusLocked()
}

func (s *Service) statusLocked() Status {
	if s.active == nil {
		return Status{}
	}

	return Status{
		Active:    true,
		Profile:   s.active.profile,
		Port:      s.active.server.Port(),
		Addr:      s.active.server.Addr(),
		StartedAt: s.active.startedAt,
		Uptime:    s.now().Sub(s.active.startedAt),
	}
}
