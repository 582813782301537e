package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/mdp/qrterminal/v3"
)

const connectTimeout = 40 * time.Second

// errorRetryDelay is the flat per-attempt delay used when connection
// setup itself fails, as opposed to a protocol-reported disconnect.
const errorRetryDelay = 10 * time.Second

// backupDebounce batches bursts of credential-update events into a
// single snapshot write.
const backupDebounce = 3 * time.Second

// ConnectionManager owns the reconnection state machine for the
// WhatsApp link. All state transitions happen on its single run
// goroutine; other components only read snapshots.
type ConnectionManager struct {
	client domain.ProtocolClient
	codec  *BackupCodec
	cfg    domain.ConfigService
	audit  domain.AuditService

	// onMessage receives every message observed on the live link.
	onMessage func(domain.ChatMessage)

	mu       sync.RWMutex
	state    domain.ConnectionState
	phone    string
	qr       string
	attempts int
	backup   *SessionBackup

	renderQR   bool
	errorDelay time.Duration
	debounce   time.Duration

	retryTimer  *time.Timer
	backupTimer *time.Timer
	resetCh     chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func NewConnectionManager(client domain.ProtocolClient, codec *BackupCodec, cfg domain.ConfigService, audit domain.AuditService, onMessage func(domain.ChatMessage)) *ConnectionManager {
	return &ConnectionManager{
		client:      client,
		codec:       codec,
		cfg:         cfg,
		audit:       audit,
		onMessage:   onMessage,
		state:       domain.StateDisconnected,
		renderQR:    true,
		errorDelay:  errorRetryDelay,
		debounce:    backupDebounce,
		retryTimer:  newStoppedTimer(),
		backupTimer: newStoppedTimer(),
		resetCh:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

// Start launches the manager goroutine and kicks off the first
// connection attempt.
func (m *ConnectionManager) Start() {
	go m.run()
}

// Stop shuts the manager down and disconnects the client.
func (m *ConnectionManager) Stop() {
	close(m.stopCh)
	<-m.doneCh
	m.client.Disconnect()
}

// Status returns a read-only snapshot of the connection state.
func (m *ConnectionManager) Status() domain.StatusSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.StatusSnapshot{
		State:        m.state,
		Phone:        m.phone,
		QRCode:       m.qr,
		AttemptCount: m.attempts,
	}
}

func (m *ConnectionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == domain.StateConnected
}

// SendText delivers a text message over the live link.
func (m *ConnectionManager) SendText(ctx context.Context, phone, text string) error {
	if !m.IsConnected() {
		return domain.ErrNotConnected
	}
	if err := m.client.SendText(ctx, phone, text); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return nil
}

// ForceReset wipes the session (credentials, backup, attempt counter)
// and restarts the pairing cycle from zero. Admin operation.
func (m *ConnectionManager) ForceReset() {
	select {
	case m.resetCh <- struct{}{}:
	default:
	}
}

func (m *ConnectionManager) run() {
	defer close(m.doneCh)

	m.tryConnect()

	for {
		select {
		case evt, ok := <-m.client.Events():
			if !ok {
				return
			}
			m.handleEvent(evt)
		case <-m.retryTimer.C:
			m.tryConnect()
		case <-m.backupTimer.C:
			m.writeBackup()
		case <-m.resetCh:
			m.doReset()
		case <-m.stopCh:
			return
		}
	}
}

func (m *ConnectionManager) handleEvent(evt domain.ProtocolEvent) {
	switch e := evt.(type) {
	case domain.QRCodeEvent:
		m.setState(domain.StateQRReady, "", e.Code)
		log.Println("[Conn] Pairing QR issued, scan with WhatsApp to link")
		if m.renderQR {
			qrterminal.GenerateHalfBlock(e.Code, qrterminal.L, os.Stdout)
		}

	case domain.LinkOpenedEvent:
		m.mu.Lock()
		m.state = domain.StateConnected
		m.phone = e.Phone
		m.qr = ""
		m.attempts = 0
		m.mu.Unlock()
		log.Printf("[Conn] Link open as %s", e.Phone)
		m.audit.Record(context.Background(), "connection_open", e.Phone, "")
		m.scheduleBackup()

	case domain.CredentialsSavedEvent:
		m.scheduleBackup()

	case domain.LinkClosedEvent:
		if !e.Recoverable {
			log.Printf("[Conn] Link closed (non-recoverable): %s", e.Reason)
			m.wipeSession("link closed: " + e.Reason)
			m.scheduleRetry(0)
			return
		}
		m.setState(domain.StateDisconnected, m.currentPhone(), "")
		delay := m.reconnectDelay()
		log.Printf("[Conn] Link closed (%s), reconnecting in %s", e.Reason, delay)
		m.scheduleRetry(delay)

	case domain.LoggedOutEvent:
		log.Println("[Conn] Logged out by remote, wiping session")
		m.wipeSession("remote logout")
		m.scheduleRetry(0)

	case domain.IncomingMessageEvent:
		if m.onMessage != nil {
			m.onMessage(e.Message)
		}
	}
}

func (m *ConnectionManager) tryConnect() {
	max := m.cfg.GetMaxReconnectAttempts()
	m.mu.Lock()
	if m.attempts >= max {
		m.mu.Unlock()
		log.Printf("[Conn] Attempt budget exhausted (%d), waiting for forced reset", max)
		return
	}
	m.attempts++
	attempt := m.attempts
	m.state = domain.StateConnecting
	m.qr = ""
	m.mu.Unlock()

	log.Printf("[Conn] Connection attempt %d/%d", attempt, max)

	if m.codec.StoreIsEmpty() {
		m.restoreFromBackup()
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := m.client.Connect(ctx); err != nil {
		m.setState(domain.StateError, "", "")
		log.Printf("[Conn] Connection setup failed: %v", err)
		m.scheduleRetry(m.errorDelay)
	}
}

// restoreFromBackup repopulates an empty credential store from the
// in-memory backup, falling back to the on-disk file. Failures degrade
// to a fresh pairing cycle rather than aborting the attempt.
func (m *ConnectionManager) restoreFromBackup() {
	m.mu.RLock()
	backup := m.backup
	m.mu.RUnlock()

	if backup == nil {
		disk, err := m.codec.LoadFromDisk()
		if err != nil {
			log.Printf("[Conn] Backup file unreadable, proceeding with fresh pairing: %v", err)
			return
		}
		backup = disk
	}
	if backup == nil {
		return
	}

	if err := m.codec.Restore(backup); err != nil {
		log.Printf("[Conn] %v, proceeding with fresh pairing", err)
		return
	}
	m.mu.Lock()
	m.backup = backup
	m.mu.Unlock()
}

// reconnectDelay computes the capped backoff for the next scheduled
// attempt: min(base * attempt_number, max).
func (m *ConnectionManager) reconnectDelay() time.Duration {
	m.mu.RLock()
	next := m.attempts + 1
	m.mu.RUnlock()

	delay := m.cfg.GetReconnectBaseDelay() * time.Duration(next)
	if max := m.cfg.GetReconnectMaxDelay(); delay > max {
		delay = max
	}
	return delay
}

func (m *ConnectionManager) scheduleRetry(delay time.Duration) {
	if !m.retryTimer.Stop() {
		select {
		case <-m.retryTimer.C:
		default:
		}
	}
	m.retryTimer.Reset(delay)
}

func (m *ConnectionManager) scheduleBackup() {
	if !m.backupTimer.Stop() {
		select {
		case <-m.backupTimer.C:
		default:
		}
	}
	m.backupTimer.Reset(m.debounce)
}

// writeBackup snapshots the credential store. It runs on the manager
// goroutine so it can never interleave with a session wipe.
func (m *ConnectionManager) writeBackup() {
	m.mu.RLock()
	phone := m.phone
	m.mu.RUnlock()

	backup, err := m.codec.Encode(phone)
	if err != nil {
		log.Printf("[Conn] Failed to snapshot credential store: %v", err)
		return
	}
	m.mu.Lock()
	m.backup = backup
	m.mu.Unlock()
	log.Println("[Conn] Session backup updated")
}

// wipeSession destroys all session state so the next attempt starts a
// completely fresh pairing cycle. Runs on forced logout and on
// non-recoverable closes.
func (m *ConnectionManager) wipeSession(reason string) {
	m.setState(domain.StateDisconnecting, "", "")

	// A pending debounced backup must not resurrect the wiped session.
	if !m.backupTimer.Stop() {
		select {
		case <-m.backupTimer.C:
		default:
		}
	}

	if err := m.codec.WipeStore(); err != nil {
		log.Printf("[Conn] Failed to wipe credential store: %v", err)
	}
	if err := m.codec.DeleteFromDisk(); err != nil {
		log.Printf("[Conn] Failed to delete backup file: %v", err)
	}

	m.mu.Lock()
	m.backup = nil
	m.attempts = 0
	m.state = domain.StateDisconnected
	m.phone = ""
	m.qr = ""
	m.mu.Unlock()

	m.audit.Record(context.Background(), "session_wiped", "", reason)
}

func (m *ConnectionManager) doReset() {
	log.Println("[Conn] Forced session reset")
	if m.client.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := m.client.Logout(ctx); err != nil {
			log.Printf("[Conn] Logout failed during reset: %v", err)
			m.client.Disconnect()
		}
		cancel()
	}
	m.wipeSession("forced reset")
	m.audit.Record(context.Background(), "forced_reset", "", "")
	m.scheduleRetry(0)
}

func (m *ConnectionManager) setState(state domain.ConnectionState, phone, qr string) {
	m.mu.Lock()
	m.state = state
	m.phone = phone
	m.qr = qr
	m.mu.Unlock()
}

func (m *ConnectionManager) currentPhone() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phone
}
