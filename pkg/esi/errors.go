package esi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FetchError reports a failed ESI request after the client gave up on it.
// Retryable distinguishes transient failures (network, 5xx, error-limited)
// from permanent ones (bad request, bad auth) that the caller must not retry.
type FetchError struct {
	Endpoint   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("esi: fetch %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("esi: fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a FetchError the caller may retry.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// esiErrorLimited is the non-standard status ESI returns once the error
// budget for a client has been exhausted.
const esiErrorLimited = 420

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		esiErrorLimited,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryableTransport(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
