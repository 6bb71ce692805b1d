package vectara

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for uniform client-facing formatting and for
// retry decisions. Each kind is a stable identifier; clients may match on it.
type Kind string

const (
	// KindValidation marks bad or missing arguments. Never retried and never
	// sent upstream.
	KindValidation Kind = "ValidationError"

	// KindAuth marks a missing, invalid, or rejected credential, or a
	// disallowed origin. Never retried.
	KindAuth Kind = "AuthError"

	// KindRateLimited marks a request denied by the gateway's own rate
	// limiter. The caller may retry later; this layer does not.
	KindRateLimited Kind = "RateLimited"

	// KindUpstreamTransient marks a timeout, connection failure, 5xx, or 429
	// from the upstream API. Retried per RetryPolicy and surfaced only after
	// the retry budget is exhausted.
	KindUpstreamTransient Kind = "UpstreamTransient"

	// KindUpstreamPermanent marks a 4xx (other than 429/408) from the
	// upstream API. Not retried.
	KindUpstreamPermanent Kind = "UpstreamPermanent"

	// KindOverloaded marks a call rejected because the connection pool wait
	// queue is full.
	KindOverloaded Kind = "Overloaded"

	// KindConfig marks a fatal configuration problem. Only valid at startup.
	KindConfig Kind = "ConfigError"
)

// Error is the typed failure every upstream call and pipeline stage resolves
// to. Message must never contain a credential value, even partially.
type Error struct {
	Kind    Kind
	Message string
	Status  int // upstream HTTP status, 0 if not applicable
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrNotConfigured is returned when a tool call needs a credential and
// neither a session credential nor a startup credential is present.
var ErrNotConfigured = &Error{Kind: KindAuth, Message: "API key not configured. Use setup_vectara_api_key or set VECTARA_API_KEY."}

// ErrOverloaded is returned when the connection pool and its wait queue are
// both full.
var ErrOverloaded = &Error{Kind: KindOverloaded, Message: "too many concurrent upstream calls, try again later"}

// KindOf extracts the error kind, defaulting to UpstreamTransient for plain
// network-ish errors and UpstreamPermanent otherwise.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindUpstreamPermanent
}

// statusError builds an Error from an upstream HTTP status. The response body
// is intentionally not included verbatim: upstream error bodies can echo
// request content.
func statusError(status int, op string) *Error {
	kind := KindUpstreamPermanent
	if retryableStatus(status) {
		kind = KindUpstreamTransient
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: fmt.Sprintf("%s: upstream rejected the API key", op), Status: status}
	}
	return &Error{Kind: kind, Message: fmt.Sprintf("%s: upstream returned %s", op, http.StatusText(status)), Status: status}
}

// retryableStatus reports whether an upstream HTTP status is transient.
// 408 is included alongside 429 and 5xx: request timeouts at the upstream
// edge behave like network timeouts.
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status <= 599:
		return true
	}
	return false
}
