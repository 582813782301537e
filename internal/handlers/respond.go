package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/academic-manager/wa-service/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders a domain error as {"error": kind, "message": ...}
// plus endpoint-specific fields where the error carries them.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{
		"error":   domain.Kind(err),
		"message": err.Error(),
	}

	var invalid *domain.InvalidCodeError
	if errors.As(err, &invalid) {
		body["remaining_attempts"] = invalid.Remaining
	}

	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch domain.Kind(err) {
	case "invalid_phone":
		return http.StatusBadRequest
	case "invalid_code", "expired", "attempts_exceeded", "unauthenticated":
		return http.StatusUnauthorized
	case "unauthorized":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "rate_limited":
		return http.StatusTooManyRequests
	case "not_connected":
		return http.StatusServiceUnavailable
	case "protocol_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
