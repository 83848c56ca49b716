package docsig

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	bodyTooManyRequests = "Too Many Requests"
	bodyLimitExceeded   = "Limit Exceeded"
)

// Outcome is what the executor should do after one attempt.
type Outcome int

const (
	Success Outcome = iota
	Retry
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	default:
		return ""
	}
}

// Decision is the classification of a single attempt. Delay is filled in by
// the executor once it knows which backoff step applies; Err is nil only for
// Success.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
	Err     *Error
}

// Classify maps the result of one round trip onto a Decision. err is the
// transport failure, if any, in which case status and body are ignored.
//
// The checks run in a fixed order: 403 and the two 429 body markers take
// precedence over the generic status ranges.
func Classify(status int, body []byte, err error) Decision {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Decision{Outcome: Fatal, Err: newError(KindRequestFailed, 0, nil, err)}
		}
		return Decision{Outcome: Retry, Err: newError(KindRequestFailed, 0, nil, err)}
	}

	switch {
	case status == http.StatusForbidden:
		return Decision{Outcome: Fatal, Err: newError(KindInvalidCredentials, status, body, nil)}
	case status == http.StatusTooManyRequests && bytes.Contains(body, []byte(bodyTooManyRequests)):
		return Decision{Outcome: Retry, Err: newError(KindTooManyRequests, status, body, nil)}
	case status == http.StatusTooManyRequests && bytes.Contains(body, []byte(bodyLimitExceeded)):
		return Decision{Outcome: Fatal, Err: newError(KindLimitExceeded, status, body, nil)}
	case status >= 200 && status < 300:
		return Decision{Outcome: Success}
	}

	e := newError(KindRequestFailed, status, body, nil)
	if e.Retryable() {
		return Decision{Outcome: Retry, Err: e}
	}
	return Decision{Outcome: Fatal, Err: e}
}
