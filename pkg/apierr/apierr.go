// Package apierr classifies the failures a report run can hit so callers can
// decide whether to retry and what to tell the user.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind is an error class.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindConversion     Kind = "conversion"
	KindRateLimit      Kind = "rate_limit"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindAccessDenied   Kind = "access_denied"
	KindUpstreamFormat Kind = "upstream_format"
	KindUpstream       Kind = "upstream"
	KindNetwork        Kind = "network"
	KindBusy           Kind = "busy"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	// Status is the upstream HTTP status, when there was one.
	Status int
	// RetryAfter is the wait estimate carried by rate-limit errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinel values like
// ErrRateLimit work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrConversion     = &Error{Kind: KindConversion}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrQuotaExceeded  = &Error{Kind: KindQuotaExceeded}
	ErrAccessDenied   = &Error{Kind: KindAccessDenied}
	ErrUpstreamFormat = &Error{Kind: KindUpstreamFormat}
	ErrUpstream       = &Error{Kind: KindUpstream}
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrBusy           = &Error{Kind: KindBusy}
)

// New returns a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited returns a rate-limit error carrying the wait estimate.
func RateLimited(op string, wait time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Op:         op,
		Msg:        fmt.Sprintf("rate limit reached, next slot in %s", wait.Round(time.Second)),
		RetryAfter: wait,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAfter returns the wait estimate carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether err signals quota exhaustion or rate limiting.
// Unclassified errors are retryable only when their text mentions a quota.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindRateLimit, KindQuotaExceeded:
		return true
	case KindUnknown:
		return mentionsQuota(err.Error())
	}
	return false
}

// Classify maps an upstream status code and message onto a Kind.
//
// 429 is a rate limit; a quota message is quota exhaustion regardless of
// status; 403 is access denied; any other failure status is a generic
// upstream failure.
func Classify(status int, message string) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		if mentionsQuota(message) {
			return KindQuotaExceeded
		}
		return KindRateLimit
	case mentionsQuota(message):
		return KindQuotaExceeded
	case status == http.StatusForbidden:
		return KindAccessDenied
	}
	return KindUpstream
}

// FromStatus builds a classified upstream error.
func FromStatus(op string, status int, message string, cause error) *Error {
	return &Error{Kind: Classify(status, message), Op: op, Msg: message, Status: status, Err: cause}
}

// HTTPStatus suggests the status a server should answer with for err.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindConversion:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindRateLimit, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindAccessDenied:
		return http.StatusForbidden
	case KindBusy:
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func mentionsQuota(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "resource exhausted")
}
