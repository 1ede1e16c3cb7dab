package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoCredential is returned when a pool has no usable credential.
	ErrNoCredential = errors.New("no usable credential")
	// ErrCircuitOpen is returned when the provider's breaker is open.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrStreamUnsupported is returned by adapters without a streaming path.
	ErrStreamUnsupported = errors.New("streaming not supported by provider")
)

// ErrorKind is the error taxonomy surfaced on failed responses. Empty means
// no error.
type ErrorKind string

const (
	ErrNone          ErrorKind = ""
	ErrKindRateLimit ErrorKind = "rate_limit"
	ErrKindAuth      ErrorKind = "auth"
	ErrKindClient    ErrorKind = "client_error"
	ErrKindServer    ErrorKind = "server_error"
	ErrKindNetwork   ErrorKind = "network"
	ErrKindCircuit   ErrorKind = "circuit_open"
	ErrKindNoCred    ErrorKind = "no_credential"
	ErrKindParse     ErrorKind = "parse_error"
	ErrKindCancelled ErrorKind = "cancelled"
)

// StatusError captures a non-2xx provider response. RetryAfterSecs is the
// parsed Retry-After header value in seconds; zero means the header was
// absent or unusable. The cooldown cap is applied by the credential pool,
// not here.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter interprets a Retry-After header as integer seconds or an
// HTTP-date, clamping negative results to absent.
func (e *StatusError) ParseRetryAfter(header string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs > 0 {
			e.RetryAfterSecs = secs
		}
		return
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			e.RetryAfterSecs = int(math.Ceil(d.Seconds()))
		}
	}
}

// RetryAfter returns the advised wait as a duration, if any.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	if e.RetryAfterSecs <= 0 {
		return 0, false
	}
	return time.Duration(e.RetryAfterSecs) * time.Second, true
}

// Classify maps an adapter error to the taxonomy the credential pool and
// the dispatcher act on. Status codes follow the table: 401/403 auth, 429
// rate limit, 408 and 5xx server (backoff), other 4xx client; everything
// transport-level is network; context cancellation is its own kind so a
// cancelled dispatch never marks a credential. A caller deadline expiring
// mid-call surfaces as a transport error here; the dispatcher reclassifies
// it by checking its own context after the call returns.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ErrKindCircuit
	}
	if errors.Is(err, ErrNoCredential) {
		return ErrKindNoCred
	}
	if errors.Is(err, ErrStreamUnsupported) {
		return ErrKindClient
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return ErrKindAuth
		case se.StatusCode == http.StatusTooManyRequests:
			return ErrKindRateLimit
		case se.StatusCode == http.StatusRequestTimeout || se.StatusCode >= 500:
			return ErrKindServer
		case se.StatusCode >= 400:
			return ErrKindClient
		}
	}
	return ErrKindNetwork
}
