package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/yeah705-lgtm/ccs-sub003/internal/routing"
	"github.com/yeah705-lgtm/ccs-sub003/internal/upstream"
)

const (
	ErrorTypeInvalidRequest      = "invalid_request_error"
	ErrorTypeRouter              = "router_error"
	ErrorTypeProviderUnavailable = "provider_unavailable"
	ErrorTypeUpstream            = "upstream_error"
)

// ErrorResponse is the envelope every gateway error is returned in.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type     string                    `json:"type"`
	Message  string                    `json:"message"`
	Attempts []routing.FallbackAttempt `json:"attempts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string, attempts []routing.FallbackAttempt) {
	_ = writeJSON(w, status, ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:     errType,
			Message:  message,
			Attempts: attempts,
		},
	})
}

// routeErrorStatus maps a routing failure onto the HTTP error taxonomy.
func routeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, upstream.ErrProviderNotFound):
		return http.StatusServiceUnavailable, ErrorTypeProviderUnavailable
	default:
		return http.StatusInternalServerError, ErrorTypeRouter
	}
}

type notFoundHandler struct{}

// NewNotFoundHandler answers unknown routes with the error envelope.
func NewNotFoundHandler() http.Handler {
	return notFoundHandler{}
}

func (notFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found_error", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), nil)
}
