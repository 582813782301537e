package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/google/uuid"
)

type contextKey string

const phoneKey contextKey = "phone"

// Middleware bundles the auth and logging wrappers for the router.
type Middleware struct {
	tokens domain.TokenStore
	cfg    domain.ConfigService
}

func NewMiddleware(tokens domain.TokenStore, cfg domain.ConfigService) *Middleware {
	return &Middleware{tokens: tokens, cfg: cfg}
}

// Log tags every request with a short id and logs method, path, status
// and duration.
func (m *Middleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()[:8]
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[HTTP] %s %s %s -> %d (%s)", reqID, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequireSession accepts a Bearer session token, or the admin API key
// as a fallback (the admin key acts on behalf of no particular phone).
func (m *Middleware) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := bearerToken(r); token != "" {
			phone, err := m.tokens.Authenticate(token)
			if err != nil {
				writeError(w, err)
				return
			}
			next(w, r.WithContext(context.WithValue(r.Context(), phoneKey, phone)))
			return
		}
		if m.isAdmin(r) {
			next(w, r)
			return
		}
		writeError(w, domain.ErrUnauthenticated)
	}
}

// RequireAdmin accepts only the admin API key.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.isAdmin(r) {
			writeError(w, domain.ErrUnauthenticated)
			return
		}
		next(w, r)
	}
}

// isAdmin validates the API key from header or query parameter. An
// empty configured key rejects everything.
func (m *Middleware) isAdmin(r *http.Request) bool {
	expectedKey := m.cfg.GetAPIKey()
	if expectedKey == "" {
		return false
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key == expectedKey
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key == expectedKey
	}
	return false
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// SessionPhone returns the authenticated phone from the request
// context, if any.
func SessionPhone(r *http.Request) string {
	phone, _ := r.Context().Value(phoneKey).(string)
	return phone
}
