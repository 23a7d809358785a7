package handlers

import (
	"log/slog"
	"net/http"
)

type HealthHandler struct {
	profile string
	logger  *slog.Logger
}

func NewHealthHandler(profile string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		profile: profile,
		logger:  logger,
	}
}

// ServeHTTP reports liveness and the active profile. It never calls upstream.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"profile": h.profile,
	})
	if err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
