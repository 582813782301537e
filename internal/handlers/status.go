package handlers

import (
	"net/http"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/academic-manager/wa-service/internal/services"
)

type StatusHandler struct {
	conn   domain.ConnectionService
	otp    *services.OTPService
	tokens *services.SessionTokenStore
}

func NewStatusHandler(conn domain.ConnectionService, otp *services.OTPService, tokens *services.SessionTokenStore) *StatusHandler {
	return &StatusHandler{conn: conn, otp: otp, tokens: tokens}
}

// Health handles GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"link":              h.conn.Status().State,
		"active_challenges": h.otp.ActiveChallenges(),
		"active_sessions":   h.tokens.ActiveSessions(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

// Status handles GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	snapshot := h.conn.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"status":        snapshot.State,
		"phone":         snapshot.Phone,
		"attempt_count": snapshot.AttemptCount,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// QR handles GET /api/qr; 404 when no pairing is in progress.
func (h *StatusHandler) QR(w http.ResponseWriter, r *http.Request) {
	snapshot := h.conn.Status()
	if snapshot.QRCode == "" {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "not_found",
			"message": "no pairing QR available, link state is " + string(snapshot.State),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"qr":    snapshot.QRCode,
		"state": snapshot.State,
	})
}
