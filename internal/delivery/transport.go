// Package delivery transmits queued payloads to the collector with
// bounded retries, an offline holding queue and a debug validation
// channel.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultEndpoint      = "https://www.google-analytics.com/mp/collect"
	DefaultDebugEndpoint = "https://www.google-analytics.com/debug/mp/collect"
	DefaultTimeout       = 10 * time.Second

	// text/plain keeps browser hosts out of CORS pre-flight.
	contentType     = "text/plain;charset=UTF-8"
	maxResponseSize = 1 << 20
)

// Transport POSTs encoded payloads to the collector.
type Transport struct {
	measurementID string
	apiSecret     string
	endpoint      string
	debugEndpoint string
	httpClient    *http.Client
}

// TransportOption configures the transport.
type TransportOption func(*Transport)

// NewTransport creates a transport for one measurement stream.
func NewTransport(measurementID, apiSecret string, opts ...TransportOption) *Transport {
	t := &Transport{
		measurementID: measurementID,
		apiSecret:     apiSecret,
		endpoint:      DefaultEndpoint,
		debugEndpoint: DefaultDebugEndpoint,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// WithEndpoint sets the collection endpoint.
func WithEndpoint(endpoint string) TransportOption {
	return func(t *Transport) {
		if endpoint != "" {
			t.endpoint = endpoint
		}
	}
}

// WithDebugEndpoint sets the validation endpoint.
func WithDebugEndpoint(endpoint string) TransportOption {
	return func(t *Transport) {
		if endpoint != "" {
			t.debugEndpoint = endpoint
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) TransportOption {
	return func(t *Transport) {
		t.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) {
		if timeout > 0 {
			t.httpClient.Timeout = timeout
		}
	}
}

// Response is a collector reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns an *APIError for non-2xx responses, nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	msg := strings.TrimSpace(string(r.Body))
	if msg == "" {
		msg = http.StatusText(r.StatusCode)
	}
	return &APIError{StatusCode: r.StatusCode, Message: msg}
}

// Post sends body to the collection or debug endpoint. Any response,
// whatever its status, is returned with a nil error; only transport
// failures produce a *ConnectionError.
func (t *Transport) Post(ctx context.Context, debug bool, body []byte) (*Response, error) {
	endpoint := t.endpoint
	if debug {
		endpoint = t.debugEndpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("measurement_id", t.measurementID)
	q.Set("api_secret", t.apiSecret)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
