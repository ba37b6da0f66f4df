package api

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxTrackedKeys = 4096

// userLimiter hands out one token bucket per signed-in user
type userLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// newUserLimiter allows perMinute requests a minute per key. Zero or less
// disables limiting
func newUserLimiter(perMinute int) *userLimiter {
	l := &userLimiter{limiters: make(map[string]*rate.Limiter)}
	if perMinute <= 0 {
		l.limit = rate.Inf
		return l
	}
	l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	l.burst = perMinute
	return l
}

// Allow keys on the verified email, so neither headers nor addresses let a
// caller pick a fresh bucket
func (l *userLimiter) Allow(email string) bool {
	if l.limit == rate.Inf {
		return true
	}
	key := strings.ToLower(email)

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		// Crude bound on memory. Buckets refill within a minute anyway
		if len(l.limiters) >= maxTrackedKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim.Allow()
}
