package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type AuthMiddleware struct {
	apiKey string
	logger *slog.Logger
}

// NewAuthMiddleware guards the gateway with a static key. An empty key
// disables the check.
func NewAuthMiddleware(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		apiKey: apiKey,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Error("Authentication failed", "error", err, "remote_addr", r.RemoteAddr)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"gateway API key not authorized"}}`))

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	if am.apiKey == "" || r.URL.Path == "/health" {
		return nil
	}

	var token string

	// Anthropic clients send x-api-key; others use a bearer token.
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		token = apiKey
	} else if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}

	if token == "" {
		return errors.New("no authentication token provided")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(am.apiKey)) != 1 {
		return errors.New("invalid API key")
	}

	return nil
}
