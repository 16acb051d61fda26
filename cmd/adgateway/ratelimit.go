package main

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxRateLimiters = 10_000

// callerLimiter keeps one token bucket per caller, evicting the least
// recently seen caller once maxRateLimiters are tracked.
type callerLimiter struct {
	mu       sync.Mutex
	perSec   int
	limiters *lru.Cache[string, *rate.Limiter]
}

// newCallerLimiter returns nil when perSec <= 0, which disables limiting.
func newCallerLimiter(perSec, size int) *callerLimiter {
	if perSec <= 0 {
		return nil
	}
	if size <= 0 {
		size = maxRateLimiters
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		// lru.New only errors on a non-positive size, guarded above.
		panic(err)
	}
	return &callerLimiter{perSec: perSec, limiters: cache}
}

// Allow reports whether callerID may make one more request now. A nil
// limiter allows everything.
func (l *callerLimiter) Allow(callerID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters.Get(callerID)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.perSec), l.perSec*2)
		l.limiters.Add(callerID, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Tracked is the number of callers currently holding a bucket.
func (l *callerLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	return l.limiters.Len()
}
