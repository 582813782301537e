package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/academic-manager/wa-service/internal/services"
)

type AuthHandler struct {
	otp    *services.OTPService
	tokens domain.TokenStore
	audit  domain.AuditService
}

func NewAuthHandler(otp *services.OTPService, tokens domain.TokenStore, audit domain.AuditService) *AuthHandler {
	return &AuthHandler{otp: otp, tokens: tokens, audit: audit}
}

// RequestCode handles POST /api/auth/request-code
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req domain.RequestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "bad_request", "message": "invalid json"})
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	resp, err := h.otp.RequestChallenge(r.Context(), req.Phone, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyCode handles POST /api/auth/verify
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "bad_request", "message": "invalid json"})
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	req.Code = strings.TrimSpace(req.Code)
	if req.Phone == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "bad_request", "message": "phone and code are required"})
		return
	}

	resp, err := h.otp.VerifyChallenge(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, domain.ErrUnauthenticated)
		return
	}
	if err := h.tokens.Logout(token); err != nil {
		writeError(w, err)
		return
	}
	h.audit.Record(r.Context(), "session_logout", SessionPhone(r), "")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success"})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, domain.ErrUnauthenticated)
		return
	}
	info, err := h.tokens.Info(token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
