package ratelimit

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"polyflow/config"
	"polyflow/logger"
)

// Rule is one fixed-window admission rule. Requests are matched to the rule
// with the longest matching host+path prefix; unmatched requests bypass
// limiting entirely.
type Rule struct {
	Host       string
	PathPrefix string
	Capacity   int
	Window     time.Duration
}

type bucket struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
}

// Limiter admits requests against fixed-window token buckets. Buckets are
// created lazily on first match and live for the process lifetime. The
// limiter never fails an admission, it only delays it; the single error
// path is context cancellation while waiting.
type Limiter struct {
	rules []Rule

	mu      sync.Mutex
	buckets map[string]*bucket

	log *logger.Log
}

// New builds a limiter from configured rules.
func New(rules []config.RateRuleConfig) *Limiter {
	rs := make([]Rule, 0, len(rules))
	for _, r := range rules {
		prefix := r.PathPrefix
		if prefix == "" {
			prefix = "/"
		}
		rs = append(rs, Rule{
			Host:       strings.ToLower(r.Host),
			PathPrefix: prefix,
			Capacity:   r.Capacity,
			Window:     r.Window,
		})
	}
	return &Limiter{
		rules:   rs,
		buckets: make(map[string]*bucket),
		log:     logger.GetLogger(),
	}
}

// Admit blocks until a token is available for the rule matching rawURL, then
// consumes it. URLs matching no rule are admitted immediately.
func (l *Limiter) Admit(ctx context.Context, rawURL string) error {
	rule, ok := l.match(rawURL)
	if !ok {
		return nil
	}
	b := l.bucketFor(rule)

	for {
		wait, admitted := b.take(rule)
		if admitted {
			return nil
		}
		// Over-sleep slightly past the window boundary so concurrent
		// waiters do not all wake on the same instant.
		wait += time.Duration(20+rand.Intn(100)) * time.Millisecond
		l.log.WithComponent("ratelimit").WithFields(logger.Fields{
			"rule": rule.Host + rule.PathPrefix,
			"wait": wait.Milliseconds(),
		}).Debug("bucket exhausted, waiting for window reset")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears all bucket state. Intended for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

// take consumes one token when available. When the bucket is exhausted it
// returns the remaining time until the window resets.
func (b *bucket) take(rule Rule) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !now.Before(b.resetAt) {
		b.remaining = rule.Capacity
		b.resetAt = now.Add(rule.Window)
	}
	if b.remaining > 0 {
		b.remaining--
		return 0, true
	}
	return b.resetAt.Sub(now), false
}

func (l *Limiter) bucketFor(rule Rule) *bucket {
	key := rule.Host + rule.PathPrefix
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}

// match finds the most specific rule for the URL: host must match exactly,
// then the longest matching path prefix wins.
func (l *Limiter) match(rawURL string) (Rule, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Rule{}, false
	}
	host := strings.ToLower(u.Hostname())
	path := u.Path
	if path == "" {
		path = "/"
	}

	best := -1
	bestLen := -1
	for i, r := range l.rules {
		if r.Host != host {
			continue
		}
		if !strings.HasPrefix(path, r.PathPrefix) {
			continue
		}
		if len(r.PathPrefix) > bestLen {
			best = i
			bestLen = len(r.PathPrefix)
		}
	}
	if best < 0 {
		return Rule{}, false
	}
	return l.rules[best], true
}
