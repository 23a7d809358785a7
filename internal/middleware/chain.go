package middleware

import (
	"log/slog"
	"net/http"

	"github.com/yeah705-lgtm/ccs-sub003/internal/metrics"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	RequestID Middleware
	Logging   Middleware
	Metrics   Middleware
	Telemetry Middleware
	Auth      Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(apiKey string, collector *metrics.Collector, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		RequestID: NewRequestIDMiddleware(),
		Logging:   NewLoggingMiddleware(logger),
		Metrics:   NewMetricsMiddleware(collector),
		Telemetry: NewTelemetrySinkMiddleware(logger),
		Auth:      NewAuthMiddleware(apiKey, logger),
	}
}

// DefaultChain returns the standard middleware chain for most endpoints
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.RequestID, // Tag the request first
		ms.Logging,   // Log requests second
		ms.Metrics,   // Count requests third
		ms.Telemetry, // Answer client telemetry locally
		ms.Auth,      // Authenticate last
	)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.RequestID,
		ms.Logging,
		ms.Metrics,
	)
}
