package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"polyflow/config"
	"polyflow/internal/ratelimit"
	"polyflow/logger"

	"golang.org/x/time/rate"
)

// Client issues rate-limited GET requests with timeout and retry/backoff.
// Every attempt, including retries, re-enters both the per-endpoint window
// buckets and the requests-per-second smoothing limiter.
type Client struct {
	httpClient *http.Client
	rules      *ratelimit.Limiter
	smooth     *rate.Limiter
	retry      config.RetryConfig
	timeout    time.Duration
	log        *logger.Log
}

// NewClient builds a request client from reader configuration. The rule
// limiter is injected so all call sites share one set of window buckets.
func NewClient(cfg config.ReaderConfig, rules *ratelimit.Limiter) *Client {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		rules:      rules,
		smooth:     rate.NewLimiter(rate.Limit(rps), burst),
		retry:      cfg.Retry,
		timeout:    timeout,
		log:        logger.GetLogger(),
	}
}

// GetJSON fetches rawURL with the given query parameters and decodes the JSON
// response into out. Transient failures are retried with exponential backoff;
// the terminal error is always surfaced, never swallowed.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &NetworkError{URL: rawURL, Err: err}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	full := u.String()

	log := c.log.WithComponent("rest_client").WithFields(logger.Fields{"url": full})

	attempts := c.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			log.WithFields(logger.Fields{"attempt": attempt, "delay_ms": delay.Milliseconds()}).
				WithError(lastErr).Warn("retrying request")
			logger.IncrementRetryCount()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// Cancelled mid-retry: the last attempt's failure is more
				// useful to the caller than a bare context error.
				return lastErr
			}
		}

		// A retry re-enters rate limiting.
		if err := c.rules.Admit(ctx, full); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return &NetworkError{URL: full, Err: err}
		}
		if err := c.smooth.Wait(ctx); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return &NetworkError{URL: full, Err: err}
		}

		lastErr = c.doOnce(ctx, full, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, fullURL string, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return &NetworkError{URL: fullURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{URL: fullURL, Err: err}
		}
		return &NetworkError{URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &HTTPError{URL: fullURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{URL: fullURL, Err: err}
		}
		return &NetworkError{URL: fullURL, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ParseError{URL: fullURL, Err: err}
	}
	logger.IncrementRESTRead(len(body))
	return nil
}

// backoff returns base * 2^attempt bounded by the configured maximum.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.retry.BaseDelay
	if base <= 0 {
		base = 300 * time.Millisecond
	}
	d := base << uint(attempt)
	if max := c.retry.MaxDelay; max > 0 && d > max {
		d = max
	}
	return d
}
