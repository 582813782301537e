package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/academic-manager/wa-service/internal/services"
)

type AdminHandler struct {
	otp  *services.OTPService
	conn *services.ConnectionManager
}

func NewAdminHandler(otp *services.OTPService, conn *services.ConnectionManager) *AdminHandler {
	return &AdminHandler{otp: otp, conn: conn}
}

// AddPhone handles POST /api/admin/phones
func (h *AdminHandler) AddPhone(w http.ResponseWriter, r *http.Request) {
	var req domain.AddPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "bad_request", "message": "invalid json"})
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	if err := h.otp.AddAuthorizedPhone(req.Phone); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "phone": req.Phone})
}

// ListPhones handles GET /api/admin/phones
func (h *AdminHandler) ListPhones(w http.ResponseWriter, r *http.Request) {
	phones := h.otp.ListAuthorizedPhones()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(phones),
		"phones": phones,
	})
}

// Reset handles POST /api/admin/reset: wipes the session and restarts
// the pairing cycle from attempt zero.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.conn.ForceReset()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "success",
		"message": "session reset scheduled, watch /api/status for the new pairing QR",
	})
}
