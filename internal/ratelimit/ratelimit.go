// Package ratelimit admits outbound provider calls through per-provider
// token buckets with continuous fractional refill.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/isaacmorgado/clauded/internal/dispatch"
)

// ErrAdmissionTimeout is returned when no token becomes available before
// the caller's deadline.
var ErrAdmissionTimeout = errors.New("rate limit admission timed out")

// pollCeiling bounds a single wait between admission attempts so a
// cancelled context is noticed promptly even under very low quotas.
const pollCeiling = 2 * time.Second

type bucket struct {
	quota      float64 // tokens per minute
	tokens     float64
	lastRefill time.Time
}

// Limiter holds one token bucket per configured provider. Buckets are
// created at construction and live for the process lifetime.
type Limiter struct {
	mu      sync.Mutex
	buckets map[dispatch.Provider]*bucket

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a limiter from per-minute quotas. Buckets start full.
func New(quotas map[dispatch.Provider]int) *Limiter {
	l := &Limiter{
		buckets: make(map[dispatch.Provider]*bucket, len(quotas)),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	start := l.now()
	for p, q := range quotas {
		if q <= 0 {
			continue
		}
		l.buckets[p] = &bucket{quota: float64(q), tokens: float64(q), lastRefill: start}
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Admit blocks until one token is available for the provider or the context
// expires. Providers without a configured quota are admitted immediately.
func (l *Limiter) Admit(ctx context.Context, p dispatch.Provider) error {
	l.mu.Lock()
	b, ok := l.buckets[p]
	l.mu.Unlock()
	if !ok {
		return nil
	}

	for {
		if l.tryConsume(b) {
			return nil
		}

		wait := nextTokenWait(b.quota)
		if wait > pollCeiling {
			wait = pollCeiling
		}
		if deadline, ok := ctx.Deadline(); ok {
			remaining := deadline.Sub(l.now())
			if remaining <= 0 {
				return fmt.Errorf("%w: provider %s", ErrAdmissionTimeout, p)
			}
			if wait > remaining {
				wait = remaining
			}
		}

		slog.Debug("rate limit wait", "provider", p, "wait_ms", wait.Milliseconds())
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: provider %s", ErrAdmissionTimeout, p)
		}
	}
}

// tryConsume refills from elapsed wall time and consumes one token if at
// least one is available. Tokens never exceed quota and never go negative.
func (l *Limiter) tryConsume(b *bucket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed / 60 * b.quota
		if b.tokens > b.quota {
			b.tokens = b.quota
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// nextTokenWait returns how long until one full token regenerates at the
// given per-minute quota: ceil(60000/Q) milliseconds.
func nextTokenWait(quota float64) time.Duration {
	ms := int64(math.Ceil(60000 / quota))
	return time.Duration(ms) * time.Millisecond
}

// Tokens reports the current token count for a provider, refilled to now.
// Used by the info command; absent providers report -1.
func (l *Limiter) Tokens(p dispatch.Provider) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[p]
	if !ok {
		return -1
	}
	tokens := b.tokens + l.now().Sub(b.lastRefill).Seconds()/60*b.quota
	if tokens > b.quota {
		tokens = b.quota
	}
	return tokens
}
