package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"busticket/internal/metrics"
	"busticket/internal/models"
)

// statusError is a non-2xx answer from a provider.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

type httpClient struct {
	provider   models.Provider
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

func newHTTPClient(provider models.Provider, cfg Config) *httpClient {
	cfg = cfg.withDefaults()
	return &httpClient{
		provider:   provider,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
	}
}

// postJSON sends body and returns the raw response. Transport errors and 5xx
// answers are retried with linear backoff; the payload is identical on every
// attempt so provider-side idempotency keys hold.
func (c *httpClient) postJSON(ctx context.Context, operation, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying gateway call",
				"provider", c.provider,
				"operation", operation,
				"attempt", attempt,
				"error", lastErr)
			if err := sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		respBody, err := c.do(ctx, url, payload)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.GatewayCall(string(c.provider), operation, outcome, time.Since(start))

		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !isRetryable(ctx, err) {
			break
		}
	}
	return nil, fmt.Errorf("%s %s: %w", c.provider, operation, lastErr)
}

func (c *httpClient) do(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// isRetryable reports whether another attempt could succeed.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
