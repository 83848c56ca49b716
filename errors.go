package docsig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyRequests    = errors.New("too many requests")
	ErrLimitExceeded      = errors.New("limit exceeded")
	ErrRequestFailed      = errors.New("request failed")
	ErrSigningUnsupported = errors.New("signing unsupported")
	ErrDecodeFailed       = errors.New("decode failed")
)

// Kind discriminates the outcomes a call can surface with.
type Kind int

const (
	KindInvalidCredentials Kind = iota + 1
	KindTooManyRequests
	KindLimitExceeded
	KindRequestFailed
	KindSigningUnsupported
	KindDecodeFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindRequestFailed:
		return "request_failed"
	case KindSigningUnsupported:
		return "signing_unsupported"
	case KindDecodeFailed:
		return "decode_failed"
	default:
		return strconv.Itoa(int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	case KindTooManyRequests:
		return ErrTooManyRequests
	case KindLimitExceeded:
		return ErrLimitExceeded
	case KindRequestFailed:
		return ErrRequestFailed
	case KindSigningUnsupported:
		return ErrSigningUnsupported
	case KindDecodeFailed:
		return ErrDecodeFailed
	default:
		return nil
	}
}

// Error is the single error type surfaced by the client. StatusCode and Body
// are set whenever a response was received; Err holds the underlying cause
// (transport failure, decode error, signing detail).
type Error struct {
	Kind       Kind
	StatusCode int
	Body       []byte
	Err        error
}

func newError(kind Kind, statusCode int, body []byte, cause error) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: statusCode,
		Body:       body,
		Err:        cause,
	}
}

func (e *Error) Error() string {
	var msg string
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	} else {
		msg = "error " + e.Kind.String()
	}
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Retryable reports whether the executor is allowed to try again after e.
// Rate limiting is retryable on its own schedule; request failures only when
// they did not come from a 4xx response.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTooManyRequests:
		return true
	case KindRequestFailed:
		if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
			return false
		}
		return e.StatusCode < 400 || e.StatusCode >= 500
	default:
		return false
	}
}

type nestedError struct {
	outer, inner error
}

func (e nestedError) Error() string {
	return e.outer.Error() + ": " + e.inner.Error()
}

func (e nestedError) Unwrap() error {
	return e.inner
}

func (e nestedError) Is(target error) bool {
	return target == e.outer
}

func nestError(outer error, format string, a ...any) error {
	return nestedError{
		outer: outer,
		inner: fmt.Errorf(format, a...),
	}
}
