package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindBadRequest         Kind = "bad_request"
	KindUnavailable        Kind = "upstream_unavailable"
)

var (
	// ErrInvalidCredentials indicates the provider rejected the API key. Fatal.
	ErrInvalidCredentials = errors.New("upstream rejected credentials")
	// ErrQuotaExceeded indicates the provider rate limit or plan quota was hit.
	ErrQuotaExceeded = errors.New("upstream quota exceeded")
	// ErrBadRequest indicates the provider rejected the query parameters.
	ErrBadRequest = errors.New("upstream rejected request")
	// ErrUnavailable covers timeouts, network failures and 5xx responses.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrMissingAPIKey is a configuration error: no call was attempted.
	ErrMissingAPIKey = errors.New("places API key is not configured")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindBadRequest:
		return ErrBadRequest
	default:
		return ErrUnavailable
	}
}

// Transient reports whether a stale cached answer may stand in for this failure.
func (k Kind) Transient() bool {
	return k == KindQuotaExceeded || k == KindUnavailable
}

// Error is a classified upstream failure. errors.Is matches the sentinel of its
// Kind; errors.Unwrap returns the transport cause, if any.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind.sentinel())
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// FromStatus classifies a non-2xx provider response.
func FromStatus(provider string, status int, message string) *Error {
	var kind Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindInvalidCredentials
	case status == http.StatusTooManyRequests:
		kind = KindQuotaExceeded
	case status == http.StatusBadRequest:
		kind = KindBadRequest
	default:
		kind = KindUnavailable
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: status, Message: message}
}

// Unavailable wraps a transport failure (timeout, refused connection, bad body).
func Unavailable(provider string, err error) *Error {
	return &Error{Provider: provider, Kind: KindUnavailable, Err: err}
}

// KindOf returns the Kind of a classified error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return "", false
}
