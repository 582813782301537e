package domain

import (
	"context"
	"time"
)

// ProtocolEvent is a typed event emitted by the protocol client adapter.
type ProtocolEvent interface {
	protocolEvent()
}

// QRCodeEvent carries a fresh pairing QR payload.
type QRCodeEvent struct {
	Code string
}

// LinkOpenedEvent reports an established link and the linked phone.
type LinkOpenedEvent struct {
	Phone string
}

// LinkClosedEvent reports a closed link. Recoverable closes are retried
// with backoff; non-recoverable ones are treated like a logout.
type LinkClosedEvent struct {
	Reason      string
	Recoverable bool
}

// LoggedOutEvent reports that the session was revoked remotely.
type LoggedOutEvent struct{}

// CredentialsSavedEvent reports that the client persisted key material.
type CredentialsSavedEvent struct{}

// IncomingMessageEvent carries a message received over the live link.
type IncomingMessageEvent struct {
	Message ChatMessage
}

func (QRCodeEvent) protocolEvent()           {}
func (LinkOpenedEvent) protocolEvent()       {}
func (LinkClosedEvent) protocolEvent()       {}
func (LoggedOutEvent) protocolEvent()        {}
func (CredentialsSavedEvent) protocolEvent() {}
func (IncomingMessageEvent) protocolEvent()  {}

// ProtocolClient is the narrow surface of the WhatsApp library the core
// depends on. The whatsmeow adapter implements it; tests inject fakes.
type ProtocolClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error
	IsConnected() bool
	Events() <-chan ProtocolEvent
	SendText(ctx context.Context, phone, text string) error
	// FetchHistory requests older messages for a chat, anchored at the
	// oldest message already known (nil anchor means "latest").
	FetchHistory(ctx context.Context, chatID string, anchor *ChatMessage, count int) ([]ChatMessage, error)
	// ScanStore returns whatever the client's internal message index
	// holds for the chat. Best effort, may be empty.
	ScanStore(chatID string, limit int) []ChatMessage
}

// ConnectionService is the read side of the connection manager exposed
// to the OTP service, the message cascade and the HTTP layer.
type ConnectionService interface {
	Status() StatusSnapshot
	IsConnected() bool
	SendText(ctx context.Context, phone, text string) error
}

// TokenStore manages bearer session tokens.
type TokenStore interface {
	Mint(phone string) (token string, expiresAt time.Time, err error)
	Authenticate(token string) (phone string, err error)
	Info(token string) (*SessionInfo, error)
	Logout(token string) error
}

// AuditService records auth and lifecycle events. Implementations must
// tolerate a missing backing store (no-op).
type AuditService interface {
	Record(ctx context.Context, kind, actor, detail string)
	Close() error
}

// ConfigService handles application configuration
type ConfigService interface {
	GetHTTPAddr() string
	GetAPIKey() string
	GetDatabaseURL() string
	GetStoreDir() string
	GetBackupFile() string
	GetOTPExpiry() time.Duration
	GetOTPMaxAttempts() int
	GetPhoneRateLimit() int
	GetIPRateLimit() int
	GetRateWindow() time.Duration
	GetSessionTTL() time.Duration
	GetMaxReconnectAttempts() int
	GetReconnectBaseDelay() time.Duration
	GetReconnectMaxDelay() time.Duration
	GetSweepInterval() time.Duration
	GetAuthorizedPhones() []string
	IsDevMode() bool
}
