package command

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused per-user limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-user token bucket.
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	users     map[string]*userLimiter
	lastSwept time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing perMinute commands per user with the given burst.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit: rate.Limit(perMinute / 60),
		burst: burst,
		users: make(map[string]*userLimiter),
		now:   time.Now,
	}
}

// Allow reports whether userID may issue a command now, consuming a token if so.
func (l *RateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}

// sweepLocked drops limiters that have been idle for a while.
func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSwept) < idleLimiterTTL {
		return
	}
	l.lastSwept = now
	for id, u := range l.users {
		if now.Sub(u.lastSeen) > idleLimiterTTL {
			delete(l.users, id)
		}
	}
}
