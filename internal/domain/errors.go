package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the auth and connection flows. The HTTP layer maps
// these to status codes and machine-checkable kinds via Kind.
var (
	// Connection errors
	ErrNotConnected = errors.New("whatsapp link is not connected")

	// Authentication-flow errors (terminal for the challenge/token)
	ErrUnauthorized     = errors.New("phone number is not authorized")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrExpired          = errors.New("verification code has expired")
	ErrAttemptsExceeded = errors.New("too many failed verification attempts")
	ErrNotFound         = errors.New("no verification code found")
	ErrUnauthenticated  = errors.New("invalid or expired session token")
	ErrInvalidPhone     = errors.New("phone number must be in international format")

	// Rate limiting
	ErrPhoneRateLimited = errors.New("too many code requests for this phone")
	ErrIPRateLimited    = errors.New("too many code requests from this address")

	// Backup/restore
	ErrRestoreFailed = errors.New("session backup restore failed")

	// Opaque failure bubbled from the protocol client
	ErrProtocol = errors.New("protocol error")
)

// InvalidCodeError carries the remaining-attempt count alongside
// ErrInvalidCode so callers can tell the user how many tries are left.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempt(s) remaining", e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// Kind returns the machine-checkable kind string for a known sentinel,
// or "internal" for anything else.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidPhone):
		return "invalid_phone"
	case errors.Is(err, ErrPhoneRateLimited), errors.Is(err, ErrIPRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrRestoreFailed):
		return "restore_failed"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	default:
		return "internal"
	}
}
