package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires all handlers into the HTTP API.
func NewRouter(status *StatusHandler, auth *AuthHandler, messages *MessageHandler, admin *AdminHandler, mw *Middleware) http.Handler {
	r := mux.NewRouter()
	r.Use(mw.Log)

	r.HandleFunc("/health", status.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", status.Status).Methods(http.MethodGet)
	api.HandleFunc("/qr", status.QR).Methods(http.MethodGet)

	api.HandleFunc("/auth/request-code", auth.RequestCode).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify", auth.VerifyCode).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", mw.RequireSession(auth.Logout)).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", mw.RequireSession(auth.Me)).Methods(http.MethodGet)

	api.HandleFunc("/messages/{chatID}", mw.RequireSession(messages.GetMessages)).Methods(http.MethodGet)

	api.HandleFunc("/admin/phones", mw.RequireAdmin(admin.AddPhone)).Methods(http.MethodPost)
	api.HandleFunc("/admin/phones", mw.RequireAdmin(admin.ListPhones)).Methods(http.MethodGet)
	api.HandleFunc("/admin/reset", mw.RequireAdmin(admin.Reset)).Methods(http.MethodPost)

	return r
}
