// Package memory provides single-process implementations of the domain
// coordination interfaces, used when no Redis is configured.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// pruneAbove is the number of tracked keys past which fully refilled
// limiters are dropped.
const pruneAbove = 4096

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// A bucket for limit per window refills one token every window/limit and
// holds at most limit tokens.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow reports whether one more request for key fits in the budget, and
// counts it if so.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}
	now := rl.now()
	k := key + "|" + strconv.Itoa(limit) + "|" + window.String()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[k]
	if !ok {
		if len(rl.limiters) >= pruneAbove {
			rl.prune(now)
		}
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		rl.limiters[k] = lim
	}
	return lim.AllowN(now, 1), nil
}

// prune drops limiters that have refilled completely; a fresh limiter would
// behave identically.
func (rl *RateLimiter) prune(now time.Time) {
	for k, lim := range rl.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(rl.limiters, k)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
