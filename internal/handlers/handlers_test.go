package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
	"github.com/academic-manager/wa-service/internal/services"
)

type fakeCfg struct {
	apiKey  string
	devMode bool
}

func (c *fakeCfg) GetHTTPAddr() string                  { return ":0" }
func (c *fakeCfg) GetAPIKey() string                    { return c.apiKey }
func (c *fakeCfg) GetDatabaseURL() string               { return "" }
func (c *fakeCfg) GetStoreDir() string                  { return "" }
func (c *fakeCfg) GetBackupFile() string                { return "" }
func (c *fakeCfg) GetOTPExpiry() time.Duration          { return 5 * time.Minute }
func (c *fakeCfg) GetOTPMaxAttempts() int               { return 3 }
func (c *fakeCfg) GetPhoneRateLimit() int               { return 10 }
func (c *fakeCfg) GetIPRateLimit() int                  { return 100 }
func (c *fakeCfg) GetRateWindow() time.Duration         { return 15 * time.Minute }
func (c *fakeCfg) GetSessionTTL() time.Duration         { return time.Hour }
func (c *fakeCfg) GetMaxReconnectAttempts() int         { return 10 }
func (c *fakeCfg) GetReconnectBaseDelay() time.Duration { return time.Millisecond }
func (c *fakeCfg) GetReconnectMaxDelay() time.Duration  { return 5 * time.Millisecond }
func (c *fakeCfg) GetSweepInterval() time.Duration      { return time.Minute }
func (c *fakeCfg) GetAuthorizedPhones() []string        { return []string{"+15551234567"} }
func (c *fakeCfg) IsDevMode() bool                      { return c.devMode }

type fakeConn struct {
	snapshot domain.StatusSnapshot
}

func (f *fakeConn) Status() domain.StatusSnapshot { return f.snapshot }
func (f *fakeConn) IsConnected() bool             { return f.snapshot.State == domain.StateConnected }
func (f *fakeConn) SendText(ctx context.Context, phone, text string) error {
	if !f.IsConnected() {
		return domain.ErrNotConnected
	}
	return nil
}

type fakeProto struct {
	events chan domain.ProtocolEvent
}

func newFakeProto() *fakeProto {
	return &fakeProto{events: make(chan domain.ProtocolEvent, 1)}
}

func (f *fakeProto) Connect(ctx context.Context) error { return nil }
func (f *fakeProto) Disconnect()                       {}
func (f *fakeProto) Logout(ctx context.Context) error  { return nil }
func (f *fakeProto) IsConnected() bool                 { return false }
func (f *fakeProto) Events() <-chan domain.ProtocolEvent {
	return f.events
}
func (f *fakeProto) SendText(ctx context.Context, phone, text string) error { return nil }
func (f *fakeProto) FetchHistory(ctx context.Context, chatID string, anchor *domain.ChatMessage, count int) ([]domain.ChatMessage, error) {
	return nil, nil
}
func (f *fakeProto) ScanStore(chatID string, limit int) []domain.ChatMessage { return nil }

type fixture struct {
	router http.Handler
	tokens *services.SessionTokenStore
	conn   *fakeConn
}

func newFixture(t *testing.T, connected bool) *fixture {
	t.Helper()
	cfg := &fakeCfg{apiKey: "admin-key", devMode: true}
	conn := &fakeConn{}
	if connected {
		conn.snapshot = domain.StatusSnapshot{State: domain.StateConnected, Phone: "15551234567"}
	} else {
		conn.snapshot = domain.StatusSnapshot{State: domain.StateDisconnected}
	}

	audit, err := services.NewAuditService("")
	if err != nil {
		t.Fatal(err)
	}
	tokens := services.NewSessionTokenStore(cfg.GetSessionTTL())
	otp := services.NewOTPService(conn, tokens, audit, cfg)

	proto := newFakeProto()
	cache := services.NewMessageCache()
	messages := services.NewMessageService(conn, proto, cache)

	base := t.TempDir()
	codec := services.NewBackupCodec(filepath.Join(base, "creds"), filepath.Join(base, "backup.json"))
	manager := services.NewConnectionManager(proto, codec, cfg, audit, cache.Add)

	mw := NewMiddleware(tokens, cfg)
	router := NewRouter(
		NewStatusHandler(conn, otp, tokens),
		NewAuthHandler(otp, tokens, audit),
		NewMessageHandler(messages),
		NewAdminHandler(otp, manager),
		mw,
	)
	return &fixture{router: router, tokens: tokens, conn: conn}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:34567"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if body["active_challenges"] != float64(0) || body["active_sessions"] != float64(0) {
		t.Fatalf("health counters = %v, want zeros on a fresh service", body)
	}

	rec, body = f.do(t, http.MethodGet, "/api/status", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != "connected" || body["phone"] != "15551234567" {
		t.Fatalf("status: %d %v", rec.Code, body)
	}
}

func TestQREndpoint(t *testing.T) {
	f := newFixture(t, false)

	rec, _ := f.do(t, http.MethodGet, "/api/qr", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("qr without pairing = %d, want 404", rec.Code)
	}

	f.conn.snapshot = domain.StatusSnapshot{State: domain.StateQRReady, QRCode: "qr-payload"}
	rec, body := f.do(t, http.MethodGet, "/api/qr", nil, nil)
	if rec.Code != http.StatusOK || body["qr"] != "qr-payload" {
		t.Fatalf("qr: %d %v", rec.Code, body)
	}
}

func TestAuthFlowOverHTTP(t *testing.T) {
	f := newFixture(t, false)

	// Issue a code over a dead link: soft success with a warning.
	rec, body := f.do(t, http.MethodPost, "/api/auth/request-code",
		map[string]string{"phone": "+15551234567"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("request-code = %d: %v", rec.Code, body)
	}
	warning, _ := body["warning"].(string)
	if body["delivered"] != false || warning == "" {
		t.Fatalf("body = %v, want delivered=false with warning", body)
	}
	code, _ := body["dev_code"].(string)
	if code == "" {
		t.Fatal("dev_code missing in dev mode")
	}

	// Wrong code: 401 with remaining attempts.
	rec, body = f.do(t, http.MethodPost, "/api/auth/verify",
		map[string]string{"phone": "+15551234567", "code": "000000"}, nil)
	if rec.Code != http.StatusUnauthorized || body["error"] != "invalid_code" {
		t.Fatalf("wrong code: %d %v", rec.Code, body)
	}
	if body["remaining_attempts"] != float64(2) {
		t.Fatalf("remaining_attempts = %v, want 2", body["remaining_attempts"])
	}

	// Correct code: token minted.
	rec, body = f.do(t, http.MethodPost, "/api/auth/verify",
		map[string]string{"phone": "+15551234567", "code": code}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify = %d: %v", rec.Code, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token in verify response")
	}

	bearer := map[string]string{"Authorization": "Bearer " + token}
	rec, body = f.do(t, http.MethodGet, "/api/auth/me", nil, bearer)
	if rec.Code != http.StatusOK || body["phone"] != "+15551234567" {
		t.Fatalf("me: %d %v", rec.Code, body)
	}

	rec, _ = f.do(t, http.MethodPost, "/api/auth/logout", nil, bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	rec, _ = f.do(t, http.MethodGet, "/api/auth/me", nil, bearer)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", rec.Code)
	}
}

func TestAuthRejections(t *testing.T) {
	f := newFixture(t, true)

	cases := []struct {
		phone    string
		wantCode int
		wantKind string
	}{
		{"15551234567", http.StatusBadRequest, "invalid_phone"},
		{"+15550000000", http.StatusForbidden, "unauthorized"},
	}
	for _, c := range cases {
		rec, body := f.do(t, http.MethodPost, "/api/auth/request-code",
			map[string]string{"phone": c.phone}, nil)
		if rec.Code != c.wantCode || body["error"] != c.wantKind {
			t.Errorf("phone %q: %d %v, want %d %s", c.phone, rec.Code, body, c.wantCode, c.wantKind)
		}
	}
}

func TestMessagesEndpoint(t *testing.T) {
	f := newFixture(t, false)
	admin := map[string]string{"X-API-Key": "admin-key"}

	rec, _ := f.do(t, http.MethodGet, "/api/messages/123@s.whatsapp.net", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", rec.Code)
	}

	rec, body := f.do(t, http.MethodGet, "/api/messages/123@s.whatsapp.net", nil, admin)
	if rec.Code != http.StatusServiceUnavailable || body["error"] != "not_connected" {
		t.Fatalf("disconnected = %d %v, want 503 not_connected", rec.Code, body)
	}

	f.conn.snapshot = domain.StatusSnapshot{State: domain.StateConnected, Phone: "15551234567"}
	rec, body = f.do(t, http.MethodGet, "/api/messages/123@s.whatsapp.net?limit=5", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("connected = %d: %v", rec.Code, body)
	}
	if body["count"] != float64(0) {
		t.Fatalf("count = %v, want 0 for an empty chat", body["count"])
	}
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t, true)
	admin := map[string]string{"X-API-Key": "admin-key"}

	rec, _ := f.do(t, http.MethodGet, "/api/admin/phones", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d, want 401", rec.Code)
	}
	rec, _ = f.do(t, http.MethodGet, "/api/admin/phones", nil, map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d, want 401", rec.Code)
	}

	rec, _ = f.do(t, http.MethodPost, "/api/admin/phones",
		map[string]string{"phone": "+15557654321"}, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("add phone = %d", rec.Code)
	}

	rec, body := f.do(t, http.MethodGet, "/api/admin/phones", nil, admin)
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("list phones: %d %v", rec.Code, body)
	}

	rec, _ = f.do(t, http.MethodPost, "/api/admin/reset", nil, admin)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reset = %d, want 202", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remote string
		fwd    string
		want   string
	}{
		{"10.0.0.1:1234", "", "10.0.0.1"},
		{"10.0.0.1:1234", "203.0.113.7", "203.0.113.7"},
		{"10.0.0.1:1234", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"bad-addr", "", "bad-addr"},
	}
	for i, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = c.remote
		if c.fwd != "" {
			req.Header.Set("X-Forwarded-For", c.fwd)
		}
		if got := clientIP(req); got != c.want {
			t.Errorf("case %d: clientIP = %q, want %q", i, got, c.want)
		}
	}
}
