package ratelimit

import (
	"context"
	"testing"
	"time"

	"polyflow/config"
)

func newTestLimiter(capacity int, window time.Duration) *Limiter {
	return New([]config.RateRuleConfig{
		{Host: "clob.example.com", PathPrefix: "/book", Capacity: capacity, Window: window},
		{Host: "clob.example.com", PathPrefix: "/", Capacity: 100, Window: window},
	})
}

func TestAdmitWithinCapacityDoesNotBlock(t *testing.T) {
	l := newTestLimiter(5, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Admit(ctx, "https://clob.example.com/book?token_id=T1"); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("admissions within capacity blocked for %v", elapsed)
	}
}

func TestAdmitBlocksPastCapacity(t *testing.T) {
	l := newTestLimiter(2, 250*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Admit(ctx, "https://clob.example.com/book"); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := l.Admit(ctx, "https://clob.example.com/book"); err != nil {
		t.Fatalf("third admit: %v", err)
	}
	// Must have waited at least until the window reset plus minimum jitter.
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("expected third admission to block until window reset, took %v", elapsed)
	}
}

func TestAdmitCancelledContext(t *testing.T) {
	l := newTestLimiter(1, time.Minute)
	ctx := context.Background()
	if err := l.Admit(ctx, "https://clob.example.com/book"); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Admit(cctx, "https://clob.example.com/book"); err == nil {
		t.Fatalf("expected context error while waiting for exhausted bucket")
	}
}

func TestUnmatchedURLBypasses(t *testing.T) {
	l := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		if err := l.Admit(ctx, "https://other.example.com/anything"); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unmatched URLs should bypass limiting, took %v", elapsed)
	}
}

func TestMostSpecificRuleWins(t *testing.T) {
	l := newTestLimiter(1, time.Minute)

	rule, ok := l.match("https://clob.example.com/book?x=1")
	if !ok || rule.PathPrefix != "/book" {
		t.Fatalf("expected /book rule, got %+v ok=%v", rule, ok)
	}
	rule, ok = l.match("https://clob.example.com/price")
	if !ok || rule.PathPrefix != "/" {
		t.Fatalf("expected catch-all rule, got %+v ok=%v", rule, ok)
	}
}

func TestResetRestoresCapacity(t *testing.T) {
	l := newTestLimiter(1, time.Minute)
	ctx := context.Background()
	if err := l.Admit(ctx, "https://clob.example.com/book"); err != nil {
		t.Fatalf("admit: %v", err)
	}
	l.Reset()

	start := time.Now()
	if err := l.Admit(ctx, "https://clob.example.com/book"); err != nil {
		t.Fatalf("admit after reset: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("admission after reset blocked for %v", elapsed)
	}
}
