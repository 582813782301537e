package services

import (
	"context"
	"sync"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
)

// fakeConfig implements domain.ConfigService with test-friendly values.
type fakeConfig struct {
	otpExpiry      time.Duration
	maxAttempts    int
	phoneLimit     int
	ipLimit        int
	rateWindow     time.Duration
	sessionTTL     time.Duration
	maxReconnects  int
	baseDelay      time.Duration
	maxDelay       time.Duration
	authorized     []string
	devMode        bool
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{
		otpExpiry:     5 * time.Minute,
		maxAttempts:   3,
		phoneLimit:    3,
		ipLimit:       10,
		rateWindow:    15 * time.Minute,
		sessionTTL:    30 * 24 * time.Hour,
		maxReconnects: 10,
		baseDelay:     time.Millisecond,
		maxDelay:      5 * time.Millisecond,
		authorized:    []string{"+15551234567"},
	}
}

func (c *fakeConfig) GetHTTPAddr() string                  { return ":0" }
func (c *fakeConfig) GetAPIKey() string                    { return "test-key" }
func (c *fakeConfig) GetDatabaseURL() string               { return "" }
func (c *fakeConfig) GetStoreDir() string                  { return "" }
func (c *fakeConfig) GetBackupFile() string                { return "" }
func (c *fakeConfig) GetOTPExpiry() time.Duration          { return c.otpExpiry }
func (c *fakeConfig) GetOTPMaxAttempts() int               { return c.maxAttempts }
func (c *fakeConfig) GetPhoneRateLimit() int               { return c.phoneLimit }
func (c *fakeConfig) GetIPRateLimit() int                  { return c.ipLimit }
func (c *fakeConfig) GetRateWindow() time.Duration         { return c.rateWindow }
func (c *fakeConfig) GetSessionTTL() time.Duration         { return c.sessionTTL }
func (c *fakeConfig) GetMaxReconnectAttempts() int         { return c.maxReconnects }
func (c *fakeConfig) GetReconnectBaseDelay() time.Duration { return c.baseDelay }
func (c *fakeConfig) GetReconnectMaxDelay() time.Duration  { return c.maxDelay }
func (c *fakeConfig) GetSweepInterval() time.Duration      { return time.Minute }
func (c *fakeConfig) GetAuthorizedPhones() []string        { return c.authorized }
func (c *fakeConfig) IsDevMode() bool                      { return c.devMode }

// noopAudit discards all events.
type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, kind, actor, detail string) {}
func (noopAudit) Close() error                                           { return nil }

// fakeProtocolClient is a scriptable domain.ProtocolClient.
type fakeProtocolClient struct {
	mu           sync.Mutex
	events       chan domain.ProtocolEvent
	connected    bool
	connectCalls int
	connectErr   error
	sendErr      error
	sent         []string // "phone|text"
	history      []domain.ChatMessage
	historyErr   error
	store        map[string][]domain.ChatMessage
	loggedOut    bool
}

func newFakeProtocolClient() *fakeProtocolClient {
	return &fakeProtocolClient{
		events: make(chan domain.ProtocolEvent, 16),
		store:  make(map[string][]domain.ChatMessage),
	}
}

func (f *fakeProtocolClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeProtocolClient) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeProtocolClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.loggedOut = true
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeProtocolClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeProtocolClient) Events() <-chan domain.ProtocolEvent {
	return f.events
}

func (f *fakeProtocolClient) SendText(ctx context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, phone+"|"+text)
	return nil
}

func (f *fakeProtocolClient) FetchHistory(ctx context.Context, chatID string, anchor *domain.ChatMessage, count int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeProtocolClient) ScanStore(chatID string, limit int) []domain.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[chatID]
}

func (f *fakeProtocolClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeProtocolClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeConnection is a static domain.ConnectionService.
type fakeConnection struct {
	connected bool
	sendErr   error
	sent      []string
}

func (f *fakeConnection) Status() domain.StatusSnapshot {
	state := domain.StateDisconnected
	if f.connected {
		state = domain.StateConnected
	}
	return domain.StatusSnapshot{State: state}
}

func (f *fakeConnection) IsConnected() bool { return f.connected }

func (f *fakeConnection) SendText(ctx context.Context, phone, text string) error {
	if !f.connected {
		return domain.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, phone+"|"+text)
	return nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
