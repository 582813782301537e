package domain

import "time"

// ConnectionState is the lifecycle state of the WhatsApp link. Only the
// connection manager mutates it.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateQRReady       ConnectionState = "qr_ready"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	StateError         ConnectionState = "error"
)

// StatusSnapshot is a read-only view of the connection manager's state.
// Invariant: State == connected implies Phone != "" and QRCode == "";
// State == qr_ready implies QRCode != "" and Phone == "".
type StatusSnapshot struct {
	State        ConnectionState `json:"state"`
	Phone        string          `json:"phone,omitempty"`
	QRCode       string          `json:"qr,omitempty"`
	AttemptCount int             `json:"attempt_count"`
}

// ChatMessage is one message observed on or fetched over the link.
type ChatMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	From      string `json:"from_user"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// RequestCodeRequest represents request to issue a verification code
type RequestCodeRequest struct {
	Phone string `json:"phone"`
}

// RequestCodeResponse represents response after issuing a verification code
type RequestCodeResponse struct {
	Status    string `json:"status"`
	Phone     string `json:"phone"`
	Delivered bool   `json:"delivered"`
	ExpiresIn int    `json:"expires_in"` // seconds
	Warning   string `json:"warning,omitempty"`
	DevCode   string `json:"dev_code,omitempty"` // only when DEV_MODE is on
}

// VerifyCodeRequest represents request to verify a code
type VerifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerifyCodeResponse represents response after successful verification
type VerifyCodeResponse struct {
	Status    string    `json:"status"`
	Token     string    `json:"token"`
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionInfo describes an authenticated session for /api/auth/me
type SessionInfo struct {
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MessagesResponse represents a message fetch result
type MessagesResponse struct {
	Status   string        `json:"status"`
	ChatID   string        `json:"chat_id"`
	Count    int           `json:"count"`
	Messages []ChatMessage `json:"messages"`
}

// AddPhoneRequest represents an admin request to authorize a phone
type AddPhoneRequest struct {
	Phone string `json:"phone"`
}
