package stubserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = 5 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// claimLimiter throttles claim exchanges per client IP. Agents poll the claim
// exchange until the owner accepts, so a misbehaving agent is easy to spot.
type claimLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	lastSweep time.Time
}

func newClaimLimiter(rps float64, burst int) *claimLimiter {
	if burst < 1 {
		burst = 1
	}
	return &claimLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		limiters:  make(map[string]*ipLimiter),
		lastSweep: time.Now(),
	}
}

// allow reports whether ip may make another claim exchange now. A nil
// limiter allows everything.
func (l *claimLimiter) allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterSweep {
		for key, il := range l.limiters {
			if now.Sub(il.lastSeen) > limiterIdle {
				delete(l.limiters, key)
			}
		}
		l.lastSweep = now
	}

	il, ok := l.limiters[ip]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = il
	}
	il.lastSeen = now
	return il.limiter.AllowN(now, 1)
}
