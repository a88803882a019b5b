// Package ratelimit applies per-key rate limits, e.g. per guild.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idle keys are forgotten after this long
const idleTTL = 10 * time.Minute

// Limiter allows limit events per window for each key, refilling evenly
// across the window.
type Limiter struct {
	rate  rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*keyLimiter
	lastSweep time.Time
}

type keyLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		rate:     rate.Every(window / time.Duration(limit)),
		burst:    limit,
		now:      time.Now,
		limiters: make(map[string]*keyLimiter),
	}
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > idleTTL {
		for k, kl := range l.limiters {
			if now.Sub(kl.lastSeen) > idleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now
	return kl.lim
}

// Allow reports whether an event for key may happen now, consuming it if so.
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).AllowN(l.now(), 1)
}

// Wait blocks until an event for key is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.getLimiter(key).Wait(ctx)
}
