package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/academic-manager/wa-service/internal/domain"
)

// sessionEntry holds the server-side state for one bearer token.
// ExpiresAt is absolute: reaching it invalidates the token no matter
// how recently it was used.
type sessionEntry struct {
	Phone        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// SessionTokenStore is an in-memory bearer-token store with absolute
// expiry. Tokens are minted only by successful OTP verification.
type SessionTokenStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionTokenStore(ttl time.Duration) *SessionTokenStore {
	return &SessionTokenStore{
		sessions: make(map[string]*sessionEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Mint creates a new token bound to the phone identity.
func (s *SessionTokenStore) Mint(phone string) (string, time.Time, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := s.now()
	expiresAt := now.Add(s.ttl)

	s.mu.Lock()
	s.sessions[token] = &sessionEntry{
		Phone:        phone,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		LastActivity: now,
	}
	s.mu.Unlock()

	return token, expiresAt, nil
}

// Authenticate resolves a token to its phone identity, evicting the
// entry if it has expired. A live lookup updates LastActivity.
func (s *SessionTokenStore) Authenticate(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[token]
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	if s.now().After(entry.ExpiresAt) {
		delete(s.sessions, token)
		return "", domain.ErrUnauthenticated
	}
	entry.LastActivity = s.now()
	return entry.Phone, nil
}

// Info returns session metadata for an authenticated token.
func (s *SessionTokenStore) Info(token string) (*domain.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[token]
	if !ok || s.now().After(entry.ExpiresAt) {
		return nil, domain.ErrUnauthenticated
	}
	return &domain.SessionInfo{
		Phone:     entry.Phone,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// Logout deletes a single token. Tokens are independent; there is no
// revoke-all-for-identity.
func (s *SessionTokenStore) Logout(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[token]; !ok {
		return domain.ErrUnauthenticated
	}
	delete(s.sessions, token)
	return nil
}

// Sweep evicts every expired session. Called by the periodic sweeper.
func (s *SessionTokenStore) Sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, entry := range s.sessions {
		if now.After(entry.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}

// ActiveSessions returns the count of live sessions, for diagnostics.
func (s *SessionTokenStore) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	count := 0
	for _, entry := range s.sessions {
		if now.Before(entry.ExpiresAt) {
			count++
		}
	}
	return count
}
