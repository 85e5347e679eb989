package orchestrator

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rahul/operator/internal/tools"
)

// Limit is a token bucket refilled PerMinute times a minute.
type Limit struct {
	PerMinute int
	Burst     int
}

// RateLimiter keeps one bucket per action type. Types without a configured
// limit are never throttled.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[tools.ActionType]*rate.Limiter
}

func NewRateLimiter(limits map[tools.ActionType]Limit) *RateLimiter {
	rl := &RateLimiter{limiters: make(map[tools.ActionType]*rate.Limiter)}
	for t, l := range limits {
		rl.Set(t, l)
	}
	return rl
}

func (rl *RateLimiter) Set(t tools.ActionType, l Limit) {
	if l.PerMinute <= 0 {
		return
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiters[t] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.PerMinute)), burst)
}

// Allow takes a token for t if one is available.
func (rl *RateLimiter) Allow(t tools.ActionType) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.limiters[t]
	rl.mu.Unlock()
	if !ok {
		return true
	}
	return lim.Allow()
}
