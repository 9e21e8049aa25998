package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pushgate/webhooks/internal/models"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxDrainBytes      = 64 << 10
)

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	Timeout time.Duration
	// MaxRetries is the number of retries after a failed attempt. Zero disables retries.
	MaxRetries int
	// CheckRetry overrides retryablehttp's default retry policy when MaxRetries > 0.
	CheckRetry retryablehttp.CheckRetry
	// Backoff overrides retryablehttp's default backoff when MaxRetries > 0.
	Backoff retryablehttp.Backoff
}

// HTTPTransport POSTs payloads to webhook URLs. Redirects are not followed and any
// non-2xx status is a failure.
type HTTPTransport struct {
	client *retryablehttp.Client
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.Logger = nil // outcomes are logged by the outcome handler
	// Return the last response instead of a generic "giving up" error so the status code survives.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if cfg.CheckRetry != nil {
		retryClient.CheckRetry = cfg.CheckRetry
	}

	if cfg.Backoff != nil {
		retryClient.Backoff = cfg.Backoff
	}

	retryClient.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if t, ok := retryClient.HTTPClient.Transport.(*http.Transport); ok {
		t.MaxIdleConns = 100
		t.MaxIdleConnsPerHost = 20
	}

	retryClient.HTTPClient.Transport = otelhttp.NewTransport(retryClient.HTTPClient.Transport)

	return &HTTPTransport{client: retryClient}
}

// Deliver implements Transport.
func (t *HTTPTransport) Deliver(ctx context.Context, d Delivery) Outcome {
	started := time.Now()

	target, ok := d.Target.(models.HTTPTarget)
	if !ok {
		return failed(d.Target, 0, started, fmt.Errorf("http transport cannot deliver to %T", d.Target))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return failed(target, 0, started, fmt.Errorf("create request: %w", err))
	}

	req.Header = d.Headers.Clone()

	resp, err := t.client.Do(req)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
			closeBody(ctx, resp)
		}

		return failed(target, code, started, fmt.Errorf("send webhook: %w", err))
	}

	closeBody(ctx, resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failed(target, resp.StatusCode, started, fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode))
	}

	return delivered(target, resp.StatusCode, started)
}

func closeBody(ctx context.Context, resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if err := resp.Body.Close(); err != nil {
		slog.WarnContext(ctx, "failed to close webhook response body", "error", err)
	}
}

var _ Transport = (*HTTPTransport)(nil)
