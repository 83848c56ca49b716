package docsig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Request is an unsigned request. The executor adds the signature headers on
// every attempt and never mutates Header itself.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest returns a request with an empty header set; a non-nil body is
// declared as JSON.
func NewRequest(method, url string, body []byte) Request {
	h := make(http.Header)
	if body != nil {
		h.Set(headerContentType, contentTypeJSON)
	}
	return Request{
		Method: method,
		URL:    url,
		Header: h,
		Body:   body,
	}
}

// RequestBuilder produces the unsigned request of one logical call. It is
// invoked once per call, before the first attempt.
type RequestBuilder func(ctx context.Context) (Request, error)

// RetryPolicy bounds the work the executor does for one logical call.
type RetryPolicy struct {
	// RateLimitSchedule lists the sleeps before each retry of a rate-limited
	// attempt; its length is the number of such retries.
	RateLimitSchedule []time.Duration
	// TransientRetries is how many extra attempts a retryable request failure
	// gets. The budget starts over after every rate-limit backoff.
	TransientRetries int
	// MaxBackoff caps the total time slept by one call. Zero means the
	// schedule alone bounds it.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy waits 0.5s, 1s, 2s, 4s on rate limiting and retries a
// transient failure once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitSchedule: []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
		},
		TransientRetries: 1,
	}
}

// Executor runs logical calls against the API. It is safe for concurrent
// use; calls share nothing but the credential source and the optional limiter.
type Executor struct {
	transport Transport
	creds     CredentialSource
	signer    *V4
	policy    RetryPolicy
	limiter   *rate.Limiter
	log       zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

type Option func(e *Executor)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithRateLimit throttles physical attempts client-side to r per second with
// the given burst, before any request leaves the process.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(e *Executor) {
		e.limiter = rate.NewLimiter(r, burst)
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

// WithClock replaces the wall clock used to timestamp signatures.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(t Transport, creds CredentialSource, opts ...Option) *Executor {
	e := &Executor{
		transport: t,
		creds:     creds,
		signer:    NewV4(),
		policy:    DefaultRetryPolicy(),
		log:       zerolog.Nop(),
		now:       time.Now,
		sleep:     sleepContext,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do performs one logical call for req.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	return e.Execute(ctx, func(context.Context) (Request, error) {
		return req, nil
	})
}

// Execute builds the request once and then signs and sends it until it
// succeeds, fails fatally or the retry budget runs out:
//
//	Start -> SignAndSend -> Classify
//	Classify: success          -> Done
//	Classify: rate limited     -> Backoff -> SignAndSend
//	Classify: transient (5xx)  -> SignAndSend, once per backoff step
//	Classify: anything else    -> Done(error)
func (e *Executor) Execute(ctx context.Context, build RequestBuilder) (*Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	requestID := e.newID()
	log := e.log.With().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("url", req.URL).
		Logger()

	var (
		start       = e.now()
		attempts    int
		rateLimited int
		transient   int
		backoff     time.Duration
		checksums   = newPayloadChecksums(req.Body, algorithmCRC64NVME, algorithmSHA256)
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindRequestFailed, 0, nil, err)
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, newError(KindRequestFailed, 0, nil, err)
			}
		}

		attempts++
		log.Debug().
			Int("attempt", attempts).
			Str("payload_crc64nvme", checksums.encoded(algorithmCRC64NVME)).
			Str("payload_sha256", checksums.encoded(algorithmSHA256)).
			Msg("sending request")

		resp, d := e.attempt(ctx, req, requestID, log)

		switch d.Outcome {
		case Success:
			resp.Stats = Stats{
				Attempts: attempts,
				Backoff:  backoff,
				Elapsed:  e.now().Sub(start),
			}
			log.Debug().
				Int("attempt", attempts).
				Int("status", resp.StatusCode).
				Dur("elapsed", resp.Stats.Elapsed).
				Msg("request succeeded")
			return resp, nil
		case Fatal:
			return nil, d.Err
		}

		switch d.Err.Kind {
		case KindTooManyRequests:
			if rateLimited >= len(e.policy.RateLimitSchedule) {
				log.Warn().Int("attempt", attempts).Msg("rate limit backoff exhausted")
				return nil, d.Err
			}
			d.Delay = e.policy.RateLimitSchedule[rateLimited]
			if e.policy.MaxBackoff > 0 && backoff+d.Delay > e.policy.MaxBackoff {
				log.Warn().
					Int("attempt", attempts).
					Dur("backoff", backoff).
					Dur("max_backoff", e.policy.MaxBackoff).
					Msg("rate limit backoff budget exhausted")
				return nil, d.Err
			}
			rateLimited++
			transient = 0
		default:
			if transient >= e.policy.TransientRetries {
				return nil, d.Err
			}
			transient++
		}

		log.Warn().
			Int("attempt", attempts).
			Stringer("kind", d.Err.Kind).
			Int("status", d.Err.StatusCode).
			Dur("delay", d.Delay).
			Msg("retrying request")

		if d.Delay > 0 {
			if err := e.sleep(ctx, d.Delay); err != nil {
				d.Err.Err = err
				return nil, d.Err
			}
			backoff += d.Delay
		}
	}
}

func (e *Executor) attempt(ctx context.Context, req Request, requestID string, log zerolog.Logger) (*Response, Decision) {
	creds, err := e.creds.Credentials(ctx)
	if err != nil {
		return nil, credentialsDecision(err)
	}

	signed, err := e.signer.Sign(SigningInput{
		Method:    req.Method,
		URI:       req.URL,
		Body:      req.Body,
		Timestamp: e.now(),
	}, creds)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) {
			return nil, Decision{Outcome: Fatal, Err: serr}
		}
		return nil, Decision{Outcome: Fatal, Err: newError(KindSigningUnsupported, 0, nil, err)}
	}

	log.Debug().
		Str("access_key_id", maskSecret(creds.AccessKeyID)).
		Str("x_amz_date", signed.XAmzDate).
		Msg("signed request")

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(headerXRequestID, requestID)
	signed.Apply(header)

	resp, err := e.transport.RoundTrip(ctx, req.Method, req.URL, header, req.Body)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	if err != nil {
		return nil, Classify(0, nil, err)
	}

	return resp, Classify(resp.StatusCode, resp.Body, nil)
}

func credentialsDecision(err error) Decision {
	var cerr *Error
	if !errors.As(err, &cerr) {
		cerr = newError(KindInvalidCredentials, 0, nil, err)
	}
	if cerr.Kind == KindRequestFailed && cerr.Retryable() {
		return Decision{Outcome: Retry, Err: cerr}
	}
	return Decision{Outcome: Fatal, Err: cerr}
}

// Call performs req and decodes a successful JSON body into T. A body that
// does not decode is reported as ErrDecodeFailed; the request is not retried.
func Call[T any](ctx context.Context, e *Executor, req Request) (T, error) {
	var v T

	resp, err := e.Do(ctx, req)
	if err != nil {
		return v, err
	}

	if err := json.Unmarshal(resp.Body, &v); err != nil {
		e.log.Error().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL).
			Int("status", resp.StatusCode).
			Msg("decoding response body")
		return v, newError(KindDecodeFailed, resp.StatusCode, resp.Body, err)
	}

	return v, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
