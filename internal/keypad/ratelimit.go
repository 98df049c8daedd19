package keypad

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedSources caps the limiter table. Sources come from topic names,
// so a misbehaving publisher could otherwise grow it without bound.
const maxTrackedSources = 1024

// idleEviction is how long a source must be quiet before its limiter may be
// evicted. By then its bucket has refilled, so eviction loses nothing.
const idleEviction = 10 * time.Minute

// sourceLimiter is a token bucket per keypad source.
type sourceLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	now      func() time.Time
	limiters map[string]*trackedLimiter
}

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newSourceLimiter allows perMinute requests per source with the given
// burst. A non-positive perMinute disables limiting.
func newSourceLimiter(perMinute, burst int, now func() time.Time) *sourceLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sourceLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		now:      now,
		limiters: make(map[string]*trackedLimiter),
	}
}

// Allow reports whether source may make a request now. A nil limiter
// allows everything.
func (s *sourceLimiter) Allow(source string) bool {
	if s == nil {
		return true
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.limiters[source]
	if !ok {
		if len(s.limiters) >= maxTrackedSources {
			s.evictIdle(now)
		}
		if len(s.limiters) >= maxTrackedSources {
			s.evictOldest()
		}
		t = &trackedLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[source] = t
	}
	t.lastSeen = now
	return t.limiter.AllowN(now, 1)
}

func (s *sourceLimiter) evictIdle(now time.Time) {
	for source, t := range s.limiters {
		if now.Sub(t.lastSeen) >= idleEviction {
			delete(s.limiters, source)
		}
	}
}

// evictOldest drops the least recently seen source to make room.
func (s *sourceLimiter) evictOldest() {
	var oldest string
	var oldestSeen time.Time
	first := true
	for source, t := range s.limiters {
		if first || t.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen, first = source, t.lastSeen, false
		}
	}
	if !first {
		delete(s.limiters, oldest)
	}
}

func (s *sourceLimiter) tracked() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
