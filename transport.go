package docsig

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is the fully read result of one round trip.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stats      Stats
}

// Stats describes how a logical call got to its response.
type Stats struct {
	Attempts int
	Backoff  time.Duration
	Elapsed  time.Duration
}

// Transport performs exactly one HTTP round trip. Implementations must not
// retry on their own; a non-nil error means no response was received.
type Transport interface {
	RoundTrip(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error)

func (f TransportFunc) RoundTrip(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	return f(ctx, method, url, header, body)
}

// HTTPTransport is a Transport backed by an *http.Client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a transport whose requests time out after timeout.
// A zero timeout leaves the deadline to the caller's context.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// NewHTTPTransportWithClient wraps an existing client, e.g. one from httptest.
func NewHTTPTransportWithClient(c *http.Client) *HTTPTransport {
	return &HTTPTransport{client: c}
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       b,
	}, nil
}
