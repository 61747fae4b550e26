package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"polyflow/config"
	"polyflow/internal/ratelimit"
)

func testClient(t *testing.T, retry config.RetryConfig, timeout time.Duration) *Client {
	t.Helper()
	cfg := config.ReaderConfig{
		Timeout: timeout,
		Retry:   retry,
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 1000,
			BurstSize:         1000,
		},
	}
	return NewClient(cfg, ratelimit.New(nil))
}

func TestGetJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("slug"); got != "will-it-rain" {
			t.Errorf("unexpected query: %q", got)
		}
		w.Write([]byte(`{"question":"Will it rain?"}`))
	}))
	defer srv.Close()

	c := testClient(t, config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}, time.Second)
	var out struct {
		Question string `json:"question"`
	}
	q := url.Values{"slug": {"will-it-rain"}}
	if err := c.GetJSON(context.Background(), srv.URL, q, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Question != "Will it rain?" {
		t.Errorf("unexpected payload: %+v", out)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(t, config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, time.Second)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.GetJSON(context.Background(), srv.URL, nil, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestGetJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, time.Second)
	var out map[string]interface{}
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound {
		t.Fatalf("expected HTTPError 404, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("4xx should not retry, got %d attempts", got)
	}
}

func TestGetJSONRetries429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, time.Second)
	var out map[string]interface{}
	if err := c.GetJSON(context.Background(), srv.URL, nil, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected retry after 429, got %d attempts", got)
	}
}

func TestGetJSONParseError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	c := testClient(t, config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, time.Second)
	var out map[string]interface{}
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("parse errors should not retry, got %d attempts", got)
	}
}

func TestGetJSONTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}, 50*time.Millisecond)
	var out map[string]interface{}
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestGetJSONNetworkError(t *testing.T) {
	c := testClient(t, config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, time.Second)
	var out map[string]interface{}
	err := c.GetJSON(context.Background(), "http://127.0.0.1:1/none", nil, &out)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestGetJSONCancelledMidRetryKeepsAttemptError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, config.RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out map[string]interface{}
	err := c.GetJSON(ctx, srv.URL, nil, &out)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected the last attempt's HTTPError, got %v", err)
	}
}

func TestGetJSONCancelledBeforeFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(t, config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, time.Second)
	var out map[string]interface{}
	err := c.GetJSON(ctx, srv.URL, nil, &out)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError wrapping the cancellation, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation cause lost: %v", err)
	}
}

func TestBackoffDoubling(t *testing.T) {
	c := testClient(t, config.RetryConfig{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}, time.Second)
	if got := c.backoff(1); got != 200*time.Millisecond {
		t.Errorf("backoff(1) = %v", got)
	}
	if got := c.backoff(2); got != 300*time.Millisecond {
		t.Errorf("backoff(2) should cap at max, got %v", got)
	}
}
