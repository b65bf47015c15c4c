package bot

import (
	"sync"
	"time"
)

// RateLimiter implements per-user per-command in-memory rate limiting
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	exempt   func(userID int64) bool
	now      func() time.Time
}

func NewRateLimiter(exempt func(userID int64) bool) *RateLimiter {
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"topup_ton":  10 * time.Second,
			"topup_usdt": 10 * time.Second,
			"topup_btc":  10 * time.Second,
			"topup_rub":  10 * time.Second,
			"check":      5 * time.Second,
		},
		exempt: exempt,
		now:    time.Now,
	}
}

// IsLimited returns true if user is rate-limited for this command
func (r *RateLimiter) IsLimited(userID int64, cmd string) bool {
	// Админ не лимитируется
	if r.exempt != nil && r.exempt(userID) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[cmd]
	if !ok {
		limit = 2 * time.Second // default limit
	}
	last := r.lastCall[userID][cmd]
	if now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][cmd] = now
	return false
}
