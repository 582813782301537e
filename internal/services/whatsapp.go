package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite" // SQLite driver for whatsmeow store
)

// historyWait bounds how long a history request waits for the async
// history-sync response before giving up with an empty result.
const historyWait = 15 * time.Second

// indexCap bounds the adapter's per-chat message index.
const indexCap = 100

// WhatsAppClient adapts whatsmeow to domain.ProtocolClient. The sqlite
// session store lives inside the credential directory so a directory
// backup captures the whole session.
type WhatsAppClient struct {
	storeDir string
	events   chan domain.ProtocolEvent

	mu        sync.Mutex
	container *sqlstore.Container
	client    *whatsmeow.Client

	histMu      sync.Mutex
	histWaiters map[string][]chan []domain.ChatMessage

	idxMu sync.Mutex
	index map[string][]domain.ChatMessage
}

func NewWhatsAppClient(storeDir string) *WhatsAppClient {
	return &WhatsAppClient{
		storeDir:    storeDir,
		events:      make(chan domain.ProtocolEvent, 64),
		histWaiters: make(map[string][]chan []domain.ChatMessage),
		index:       make(map[string][]domain.ChatMessage),
	}
}

func (w *WhatsAppClient) Events() <-chan domain.ProtocolEvent {
	return w.events
}

// Connect opens the session store and starts the socket. The store is
// reopened on every call so a credential directory that was wiped or
// restored since the last attempt is picked up.
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil && w.client.IsConnected() {
		return nil
	}
	w.closeLocked()

	if err := os.MkdirAll(w.storeDir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}

	dbPath := filepath.Join(w.storeDir, "whatsmeow.db")
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=5000&_pragma=foreign_keys=on", dbPath), waLog.Stdout("SQLStore", "WARN", true))
	if err != nil {
		return fmt.Errorf("failed to create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		log.Printf("[WA] No existing device found, creating new device: %v", err)
		deviceStore = container.NewDevice()
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "WARN", true))
	// The lifecycle manager owns reconnection.
	client.EnableAutoReconnect = false
	client.AddEventHandler(func(evt interface{}) {
		w.handleEvent(client, evt)
	})

	if client.Store.ID == nil {
		qrChan, _ := client.GetQRChannel(context.Background())
		if err := client.Connect(); err != nil {
			_ = container.Close()
			return fmt.Errorf("failed to connect: %w", err)
		}
		go w.forwardQR(qrChan)
	} else {
		if err := client.Connect(); err != nil {
			_ = container.Close()
			return fmt.Errorf("failed to connect with existing session: %w", err)
		}
	}

	w.container = container
	w.client = client
	return nil
}

func (w *WhatsAppClient) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *WhatsAppClient) closeLocked() {
	if w.client != nil {
		w.client.Disconnect()
		w.client = nil
	}
	if w.container != nil {
		_ = w.container.Close()
		w.container = nil
	}
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Logout(ctx)
}

func (w *WhatsAppClient) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client != nil && w.client.IsConnected()
}

// SendText delivers a plain text message to a phone number, retrying
// transient signal-session encryption failures.
func (w *WhatsAppClient) SendText(ctx context.Context, phone, message string) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return domain.ErrNotConnected
	}

	to := waTypes.NewJID(normalizePhone(phone), waTypes.DefaultUserServer)
	msg := &waProto.Message{Conversation: &message}

	var err error
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		_, err = client.SendMessage(ctx, to, msg)
		if err == nil {
			break
		}

		if strings.Contains(err.Error(), "can't encrypt message") ||
			strings.Contains(err.Error(), "no signal session established") {
			log.Printf("[WA] Encryption error (attempt %d/%d): %v", i+1, maxRetries, err)
			if i < maxRetries-1 {
				time.Sleep(time.Duration(i+1) * 2 * time.Second)
				continue
			}
		}
		break
	}
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// FetchHistory asks the phone for older history in a chat and waits a
// bounded time for the async history-sync response. No data within the
// window is an empty result, not an error.
func (w *WhatsAppClient) FetchHistory(ctx context.Context, chatID string, anchor *domain.ChatMessage, count int) ([]domain.ChatMessage, error) {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if client == nil || !client.IsConnected() || client.Store.ID == nil {
		return nil, domain.ErrNotConnected
	}

	chatJID, err := chatToJID(chatID)
	if err != nil {
		return nil, err
	}

	var info *waTypes.MessageInfo
	if anchor != nil {
		info = &waTypes.MessageInfo{
			ID:        waTypes.MessageID(anchor.ID),
			Timestamp: time.Unix(anchor.Timestamp, 0),
			MessageSource: waTypes.MessageSource{
				Chat:   chatJID,
				Sender: waTypes.NewJID(normalizePhone(anchor.From), waTypes.DefaultUserServer),
			},
		}
	}

	ch := w.addHistWaiter(chatJID.String())
	defer w.removeHistWaiter(chatJID.String(), ch)

	req := client.BuildHistorySyncRequest(info, count)
	if _, err := client.SendMessage(ctx, client.Store.ID.ToNonAD(), req, whatsmeow.SendRequestExtra{Peer: true}); err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}

	select {
	case msgs := <-ch:
		return msgs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(historyWait):
		return nil, nil
	}
}

// ScanStore returns the adapter's own index of recently seen messages
// for the chat, oldest first.
func (w *WhatsAppClient) ScanStore(chatID string, limit int) []domain.ChatMessage {
	jid, err := chatToJID(chatID)
	if err != nil {
		return nil
	}

	w.idxMu.Lock()
	defer w.idxMu.Unlock()

	msgs := w.index[jid.String()]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (w *WhatsAppClient) handleEvent(client *whatsmeow.Client, evt interface{}) {
	switch e := evt.(type) {
	case *waEvents.Connected:
		phone := ""
		if client.Store.ID != nil {
			phone = client.Store.ID.User
		}
		w.emit(domain.LinkOpenedEvent{Phone: phone})

	case *waEvents.PairSuccess:
		w.emit(domain.CredentialsSavedEvent{})

	case *waEvents.Disconnected:
		w.emit(domain.LinkClosedEvent{Reason: "socket closed", Recoverable: true})

	case *waEvents.StreamReplaced:
		w.emit(domain.LinkClosedEvent{Reason: "stream replaced by another client", Recoverable: false})

	case *waEvents.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			w.emit(domain.LoggedOutEvent{})
			return
		}
		w.emit(domain.LinkClosedEvent{Reason: fmt.Sprintf("connect failure: %v", e.Reason), Recoverable: true})

	case *waEvents.LoggedOut:
		w.emit(domain.LoggedOutEvent{})

	case *waEvents.AppStateSyncComplete:
		w.emit(domain.CredentialsSavedEvent{})

	case *waEvents.Message:
		msg := toChatMessage(e)
		if msg.Content == "" {
			return
		}
		w.indexAdd(msg)
		w.emit(domain.IncomingMessageEvent{Message: msg})

	case *waEvents.HistorySync:
		w.handleHistorySync(client, e)
	}
}

func (w *WhatsAppClient) handleHistorySync(client *whatsmeow.Client, e *waEvents.HistorySync) {
	for _, conv := range e.Data.GetConversations() {
		chatJID, err := waTypes.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		var msgs []domain.ChatMessage
		for _, histMsg := range conv.GetMessages() {
			parsed, err := client.ParseWebMessage(chatJID, histMsg.GetMessage())
			if err != nil {
				continue
			}
			msg := toChatMessage(parsed)
			if msg.Content == "" {
				continue
			}
			w.indexAdd(msg)
			msgs = append(msgs, msg)
		}
		w.deliverHistory(chatJID.String(), msgs)
	}
}

func (w *WhatsAppClient) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			w.emit(domain.QRCodeEvent{Code: evt.Code})
		case "success":
			w.emit(domain.CredentialsSavedEvent{})
		case "timeout":
			w.emit(domain.LinkClosedEvent{Reason: "pairing QR expired", Recoverable: true})
		}
	}
}

func (w *WhatsAppClient) emit(evt domain.ProtocolEvent) {
	select {
	case w.events <- evt:
	default:
		log.Printf("[WA] Event channel full, dropping %T", evt)
	}
}

func (w *WhatsAppClient) addHistWaiter(chat string) chan []domain.ChatMessage {
	ch := make(chan []domain.ChatMessage, 1)
	w.histMu.Lock()
	w.histWaiters[chat] = append(w.histWaiters[chat], ch)
	w.histMu.Unlock()
	return ch
}

func (w *WhatsAppClient) removeHistWaiter(chat string, ch chan []domain.ChatMessage) {
	w.histMu.Lock()
	defer w.histMu.Unlock()
	waiters := w.histWaiters[chat]
	for i, c := range waiters {
		if c == ch {
			w.histWaiters[chat] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(w.histWaiters[chat]) == 0 {
		delete(w.histWaiters, chat)
	}
}

func (w *WhatsAppClient) deliverHistory(chat string, msgs []domain.ChatMessage) {
	w.histMu.Lock()
	defer w.histMu.Unlock()
	for _, ch := range w.histWaiters[chat] {
		select {
		case ch <- msgs:
		default:
		}
	}
}

func (w *WhatsAppClient) indexAdd(msg domain.ChatMessage) {
	w.idxMu.Lock()
	defer w.idxMu.Unlock()

	msgs := w.index[msg.ChatID]
	for _, m := range msgs {
		if m.ID == msg.ID {
			return
		}
	}
	msgs = append(msgs, msg)
	if len(msgs) > indexCap {
		msgs = msgs[len(msgs)-indexCap:]
	}
	w.index[msg.ChatID] = msgs
}

func toChatMessage(e *waEvents.Message) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        string(e.Info.ID),
		ChatID:    e.Info.Chat.String(),
		From:      e.Info.Sender.User,
		Content:   ExtractText(e),
		Timestamp: e.Info.Timestamp.Unix(),
	}
}

// chatToJID accepts either a full JID ("123@s.whatsapp.net",
// "123-456@g.us") or a bare phone number.
func chatToJID(chatID string) (waTypes.JID, error) {
	if strings.Contains(chatID, "@") {
		jid, err := waTypes.ParseJID(chatID)
		if err != nil {
			return waTypes.JID{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
		}
		return jid, nil
	}
	phone := normalizePhone(chatID)
	if phone == "" {
		return waTypes.JID{}, fmt.Errorf("invalid chat id %q", chatID)
	}
	return waTypes.NewJID(phone, waTypes.DefaultUserServer), nil
}

// ExtractText returns the plain text of a message, if any.
func ExtractText(e *waEvents.Message) string {
	if e.Message.GetConversation() != "" {
		return e.Message.GetConversation()
	}
	if e.Message.ExtendedTextMessage != nil {
		return e.Message.ExtendedTextMessage.GetText()
	}
	return ""
}

// stripDevicePart drops the ":device" suffix from a JID user part.
func stripDevicePart(user string) string {
	if i := strings.Index(user, ":"); i >= 0 {
		return user[:i]
	}
	return user
}

// normalizePhone reduces a phone or JID string to bare digits.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if i := strings.Index(phone, "@"); i >= 0 {
		phone = phone[:i]
	}
	phone = stripDevicePart(phone)
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
