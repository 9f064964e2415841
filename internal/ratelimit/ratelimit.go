package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket rate limiter keyed by caller identity. Each key
// may make limit requests per window, refilled continuously.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    int
	window   time.Duration
	now      func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows limit requests per window for each key.
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// get returns the limiter for key, creating a full one if needed.
// Must be called with l.mu held.
func (l *Limiter) get(key string) *rate.Limiter {
	rl, ok := l.limiters[key]
	if !ok {
		rl = rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)
		// Anchor the bucket to the injected clock.
		rl.SetLimitAt(l.now(), rl.Limit())
		l.limiters[key] = rl
	}
	return rl
}

// Allow reports whether a request for key is permitted, consuming one token
// when it is.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(key).AllowN(l.now(), 1)
}

// Status returns the current state for key: the bucket size, the whole tokens
// left and the time at which the bucket will be full again.
func (l *Limiter) Status(key string) (limit int, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tokens := l.get(key).TokensAt(now)

	limit = l.limit
	remaining = max(int(tokens), 0)

	deficit := float64(l.limit) - tokens
	if deficit <= 0 {
		return limit, remaining, now
	}
	perToken := l.window / time.Duration(l.limit)
	resetAt = now.Add(time.Duration(deficit * float64(perToken)))
	return limit, remaining, resetAt
}
