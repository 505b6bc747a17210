package proxy

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

// subjectLimiter keeps one token bucket per authenticated subject.
type subjectLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newSubjectLimiter returns nil when perMinute is zero, which disables limiting.
func newSubjectLimiter(perMinute, burst int) *subjectLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &subjectLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// allow consumes one token for subject. When the bucket is empty it reports how long
// until the next token is available.
func (l *subjectLimiter) allow(subject string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	entry, ok := l.entries[subject]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[subject] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops buckets idle for longer than limiterIdleTTL. Callers hold l.mu.
func (l *subjectLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	for subject, entry := range l.entries {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.entries, subject)
		}
	}
	l.lastSweep = now
}
