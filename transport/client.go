// Package transport posts opaque payloads to a license server.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "gowvlicense/dev"

	contentType = "application/octet-stream"
)

type options struct {
	timeout    time.Duration
	retries    int
	userAgent  string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// Option configures a Client.
type Option func(*options)

// WithTimeout bounds each exchange, including retries.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithRetries sets how many times a failed exchange is retried. Only use it
// for idempotent exchanges; a license challenge must be sent once.
func WithRetries(n int) Option {
	return func(o *options) {
		o.retries = n
	}
}

func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Client sends request bodies unmodified and returns the status code and
// response body unmodified, whatever the status.
type Client struct {
	http      *retryablehttp.Client
	timeout   time.Duration
	userAgent string
	log       logrus.FieldLogger
}

func New(opts ...Option) *Client {
	o := &options{
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.log = l
	}

	rc := retryablehttp.NewClient()
	if o.httpClient != nil {
		rc.HTTPClient = o.httpClient
	}
	rc.HTTPClient.Timeout = o.timeout
	rc.RetryMax = o.retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = &leveledLogger{log: o.log}
	// hand non-2xx responses back with their body instead of an error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:      rc,
		timeout:   o.timeout,
		userAgent: o.userAgent,
		log:       o.log,
	}
}

// Send POSTs body to url. The whole exchange, retries and backoff included,
// is bounded by the client timeout.
func (c *Client) Send(ctx context.Context, url string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("POST %q, request creation failed: %w", url, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", requestID)

	log := c.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"url":        url,
	})
	log.WithField("size", len(body)).Debug("sending request")

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("POST %q failed: %w", url, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("POST %q, reading response body failed: %w", url, err)
	}
	log.WithFields(logrus.Fields{
		"status": res.StatusCode,
		"size":   len(data),
	}).Debug("received response")

	return res.StatusCode, data, nil
}
