package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
)

// phonePattern is the strict international format: leading +, country
// code, 8 to 15 digits total.
var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// OTPChallenge represents one live verification code for a phone.
// Exactly one challenge per phone; re-issuing overwrites.
type OTPChallenge struct {
	Code        string
	Phone       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

// OTPService issues, rate-limits and verifies one-time passcodes
// delivered over the WhatsApp link, and mints session tokens on
// successful verification. All state is in memory.
type OTPService struct {
	mu         sync.Mutex
	challenges map[string]*OTPChallenge // key: phone number
	allowed    map[string]bool          // authorized-phone allow-list

	phoneLimiter *RateLimiter
	ipLimiter    *RateLimiter

	conn   domain.ConnectionService
	tokens domain.TokenStore
	audit  domain.AuditService

	expiry      time.Duration
	maxAttempts int
	devMode     bool
	now         func() time.Time
}

func NewOTPService(conn domain.ConnectionService, tokens domain.TokenStore, audit domain.AuditService, cfg domain.ConfigService) *OTPService {
	allowed := make(map[string]bool)
	for _, phone := range cfg.GetAuthorizedPhones() {
		allowed[phone] = true
	}

	return &OTPService{
		challenges:   make(map[string]*OTPChallenge),
		allowed:      allowed,
		phoneLimiter: NewRateLimiter(cfg.GetPhoneRateLimit(), cfg.GetRateWindow()),
		ipLimiter:    NewRateLimiter(cfg.GetIPRateLimit(), cfg.GetRateWindow()),
		conn:         conn,
		tokens:       tokens,
		audit:        audit,
		expiry:       cfg.GetOTPExpiry(),
		maxAttempts:  cfg.GetOTPMaxAttempts(),
		devMode:      cfg.IsDevMode(),
		now:          time.Now,
	}
}

// RequestChallenge issues a new code for the phone and attempts
// delivery over the live link. Issuance succeeds even when the link is
// down or the send fails; the response then carries delivered=false
// and a warning, so the caller can fall back to an admin-assisted
// channel while the challenge stays verifiable.
func (s *OTPService) RequestChallenge(ctx context.Context, phone, sourceIP string) (*domain.RequestCodeResponse, error) {
	if !phonePattern.MatchString(phone) {
		return nil, domain.ErrInvalidPhone
	}
	if !s.IsAuthorized(phone) {
		s.audit.Record(ctx, "otp_rejected", phone, "not in allow-list")
		return nil, domain.ErrUnauthorized
	}

	// Both limits are checked before either is recorded, so a breach of
	// one does not burn budget on the other.
	if !s.phoneLimiter.Check(phone) {
		return nil, domain.ErrPhoneRateLimited
	}
	if !s.ipLimiter.Check(sourceIP) {
		return nil, domain.ErrIPRateLimited
	}
	s.phoneLimiter.Record(phone)
	s.ipLimiter.Record(sourceIP)

	code, err := generateNumericCode(6)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	s.challenges[phone] = &OTPChallenge{
		Code:        code,
		Phone:       phone,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.expiry),
		MaxAttempts: s.maxAttempts,
	}
	s.mu.Unlock()

	resp := &domain.RequestCodeResponse{
		Status:    "success",
		Phone:     phone,
		ExpiresIn: int(s.expiry.Seconds()),
	}
	if s.devMode {
		resp.DevCode = code
	}

	if !s.conn.IsConnected() {
		resp.Warning = "whatsapp link is not connected, code was not delivered"
		s.audit.Record(ctx, "otp_requested", phone, "stored, not delivered (link down)")
		return resp, nil
	}

	message := fmt.Sprintf("Your verification code is *%s*\n\nIt expires in %d minutes. Do not share this code with anyone.",
		code, int(s.expiry.Minutes()))
	if err := s.conn.SendText(ctx, phone, message); err != nil {
		log.Printf("[OTP] Failed to deliver code to %s: %v", phone, err)
		resp.Warning = "code delivery failed, request a new code or contact an administrator"
		s.audit.Record(ctx, "otp_requested", phone, "stored, delivery failed")
		return resp, nil
	}

	resp.Delivered = true
	s.audit.Record(ctx, "otp_requested", phone, "delivered")
	return resp, nil
}

// VerifyChallenge checks the code and mints a session token on match.
func (s *OTPService) VerifyChallenge(ctx context.Context, phone, code string) (*domain.VerifyCodeResponse, error) {
	s.mu.Lock()
	entry, exists := s.challenges[phone]
	if !exists {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if s.now().After(entry.ExpiresAt) {
		delete(s.challenges, phone)
		s.mu.Unlock()
		return nil, domain.ErrExpired
	}
	if entry.Attempts >= entry.MaxAttempts {
		delete(s.challenges, phone)
		s.mu.Unlock()
		s.audit.Record(ctx, "otp_failed", phone, "attempt budget exhausted")
		return nil, domain.ErrAttemptsExceeded
	}
	if entry.Code != code {
		entry.Attempts++
		remaining := entry.MaxAttempts - entry.Attempts
		s.mu.Unlock()
		return nil, &domain.InvalidCodeError{Remaining: remaining}
	}
	// One-time use: destroy on success.
	delete(s.challenges, phone)
	s.mu.Unlock()

	token, expiresAt, err := s.tokens.Mint(phone)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, "otp_verified", phone, "")
	return &domain.VerifyCodeResponse{
		Status:    "success",
		Token:     token,
		Phone:     phone,
		ExpiresAt: expiresAt,
	}, nil
}

// IsAuthorized reports whether the phone is on the allow-list.
func (s *OTPService) IsAuthorized(phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed[phone]
}

// AddAuthorizedPhone adds a phone to the allow-list. Admin operation.
func (s *OTPService) AddAuthorizedPhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return domain.ErrInvalidPhone
	}
	s.mu.Lock()
	s.allowed[phone] = true
	s.mu.Unlock()
	return nil
}

// ListAuthorizedPhones returns the allow-list, sorted.
func (s *OTPService) ListAuthorizedPhones() []string {
	s.mu.Lock()
	phones := make([]string, 0, len(s.allowed))
	for phone := range s.allowed {
		phones = append(phones, phone)
	}
	s.mu.Unlock()

	sort.Strings(phones)
	return phones
}

// Sweep removes expired challenges and stale rate-limit windows.
func (s *OTPService) Sweep() {
	now := s.now()
	s.mu.Lock()
	for phone, entry := range s.challenges {
		if now.After(entry.ExpiresAt) {
			delete(s.challenges, phone)
		}
	}
	s.mu.Unlock()

	s.phoneLimiter.Sweep()
	s.ipLimiter.Sweep()
}

// ActiveChallenges returns the count of live challenges, for diagnostics.
func (s *OTPService) ActiveChallenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, entry := range s.challenges {
		if now.Before(entry.ExpiresAt) {
			count++
		}
	}
	return count
}

// generateNumericCode generates a random numeric code of the given length.
func generateNumericCode(length int) (string, error) {
	const digits = "0123456789"
	code := make([]byte, length)

	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		code[i] = digits[num.Int64()]
	}

	return string(code), nil
}
