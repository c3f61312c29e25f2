// Package providers holds the clients of the external travel APIs the tools
// call: web search and crawl, flights, accommodations, weather, maps and
// travel advisories. Each client is a thin execute(params) -> result
// wrapper; caching and rate limiting live in the guardrail layer.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/cerr"
)

// HTTPClient performs JSON requests with bounded retries on transient
// failures (network errors, 429, 5xx).
type HTTPClient struct {
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
	maxElapsed      time.Duration
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithRetries sets the retry budget (attempts after the first).
func WithRetries(n uint64) HTTPOption {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.initialInterval = d }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates a client with 2 retries and a 30s request timeout.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		client:          &http.Client{Timeout: 30 * time.Second},
		maxRetries:      2,
		initialInterval: 250 * time.Millisecond,
		maxElapsed:      20 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request describes one JSON call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	// FailCode is reported when the call fails for good.
	FailCode cerr.Code
	// RateLimitCode, when set, is reported for a final 429 instead of FailCode.
	RateLimitCode cerr.Code
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// DoJSON sends req and decodes the JSON response into out (may be nil).
func (c *HTTPClient) DoJSON(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return cerr.New(req.FailCode, "encode request", err)
		}
		payload = b
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	attempt := 0
	op := func() error {
		attempt++
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		httpReq.Header.Set("Accept", "application/json")
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			se := &StatusError{Status: resp.StatusCode, Body: string(b)}
			if retryable(resp.StatusCode) {
				return se
			}
			return backoff.Permanent(se)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxElapsedTime = c.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("url", redactURL(req.URL)).Dur("wait", wait).Msg("Provider call failed, retrying")
	}

	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cerr.New(cerr.Canceled, "provider call canceled", err)
	}

	var se *StatusError
	if errors.As(err, &se) {
		code := req.FailCode
		if se.Status == http.StatusTooManyRequests && req.RateLimitCode != "" {
			code = req.RateLimitCode
		}
		return cerr.New(code, fmt.Sprintf("provider returned status %d", se.Status), err).
			WithMeta("status", se.Status).
			WithMeta("attempts", attempt)
	}
	return cerr.New(req.FailCode, "provider request failed", err).WithMeta("attempts", attempt)
}

// redactURL strips the query string, which often carries API keys.
func redactURL(u string) string {
	for i := 0; i < len(u); i++ {
		if u[i] == '?' {
			return u[:i]
		}
	}
	return u
}
