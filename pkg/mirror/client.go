// Package mirror implements the HTTP client side of the collector
// protocol: a streaming body POST and a buffered metadata POST.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/platformatic/traffic-interceptor/internal/errx"
)

const (
	maxIdleConns        = 64
	maxIdleConnsPerHost = 16
	idleConnTimeout     = 90 * time.Second
)

// Client is a connection-pooled HTTP client bound to the collector base
// URL. It is shared across transactions; requests are independent and
// never retried.
type Client struct {
	base       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the base URL and builds the pooled transport.
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidBaseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errx.With(ErrInvalidBaseURL, ": scheme and host are required")
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		base:       strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "mirror"),
	}, nil
}

// PostBody streams a response body to the collector. The POST has a
// fixed length when headers declare a positive Content-Length and is
// chunked otherwise. The caller supplies all descriptor headers. The body reader is
// consumed until EOF or until ctx is canceled; cancellation aborts the
// socket write.
func (c *Client) PostBody(ctx context.Context, path string, headers http.Header, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return errx.Wrap(ErrDelivery, err)
	}
	for key, values := range headers {
		req.Header[key] = values
	}
	// The transport owns framing: a declared positive length is sent
	// as-is, anything else goes chunked.
	if n, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		req.ContentLength = n
	}
	return c.do(req)
}

// PostMeta delivers a small buffered JSON payload to the collector.
func (c *Client) PostMeta(ctx context.Context, path string, headers http.Header, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return errx.Wrap(ErrDelivery, err)
	}
	for key, values := range headers {
		req.Header[key] = values
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errx.Wrap(ErrDelivery, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errx.With(ErrCollectorStatus, fmt.Sprintf(": %d from %s", resp.StatusCode, req.URL.Path))
	}
	return nil
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
