package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterCleanupInterval = 5 * time.Minute

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LoginLimiter throttles login attempts per identifier with a token bucket. Entries
// for idle identifiers are dropped by a background cleanup goroutine; call Stop to
// end it.
type LoginLimiter struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	stopCh chan struct{}
}

// NewLoginLimiter returns a limiter allowing perMinute sustained attempts with the
// given burst per identifier.
func NewLoginLimiter(perMinute, burst int) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	l := &LoginLimiter{
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop ends the background cleanup goroutine.
func (l *LoginLimiter) Stop() {
	close(l.stopCh)
}

// Allow reports whether another attempt for the identifier is within the limit.
func (l *LoginLimiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.limiters[identifier]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[identifier] = kl
	}
	kl.lastAccess = time.Now()
	return kl.limiter.Allow()
}

func (l *LoginLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *LoginLimiter) cleanup() {
	ttl := 2 * limiterCleanupInterval
	now := time.Now()
	l.mu.Lock()
	for id, kl := range l.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(l.limiters, id)
		}
	}
	l.mu.Unlock()
}
