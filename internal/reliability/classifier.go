package reliability

import (
	"errors"
	"fmt"
	"time"
)

// Kind buckets provider failures by how the caller should react.
type Kind string

const (
	// KindTransient covers network hiccups and 5xx/429 responses; the step
	// that hit it may retry with bounded backoff.
	KindTransient Kind = "transient"
	// KindTerminal covers failures bound to a single call attempt (invalid
	// number, malformed request); the attempt fails, the campaign continues.
	KindTerminal Kind = "terminal"
	// KindAccount covers account-wide failures (balance exhausted, auth
	// revoked); the whole campaign must stop dialing.
	KindAccount Kind = "account"
)

// ProviderError is a classified failure from either gateway.
type ProviderError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s/%s]: %s", e.Kind, e.Code, e.Message)
}

func Transient(code, message string) *ProviderError {
	return &ProviderError{Kind: KindTransient, Code: code, Message: message}
}

func Terminal(code, message string) *ProviderError {
	return &ProviderError{Kind: KindTerminal, Code: code, Message: message}
}

func Account(code, message string) *ProviderError {
	return &ProviderError{Kind: KindAccount, Code: code, Message: message}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// are treated as transient so a lone network blip never kills a campaign.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps a provider HTTP response to the error taxonomy.
func ClassifyHTTPStatus(status int, code, message string) *ProviderError {
	switch {
	case IsRetryableHTTPStatus(status):
		return Transient(code, message)
	case status == 401 || status == 402 || status == 403:
		return Account(code, message)
	default:
		return Terminal(code, message)
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
