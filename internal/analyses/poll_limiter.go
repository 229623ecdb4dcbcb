package analyses

import (
	"sync"
	"time"
)

const (
	pollLimitWindow = 1 * time.Second
	// entries older than this are swept once the map grows past pollSweepSize
	pollStaleAfter = time.Minute
	pollSweepSize  = 1024
)

// pollLimiter allows one status poll per caller and analysis per window.
// Clients that cannot hold an event stream open fall back to polling.
type pollLimiter struct {
	mu      sync.Mutex
	lastHit map[string]time.Time
	now     func() time.Time
	window  time.Duration
}

func newPollLimiter(window time.Duration, now func() time.Time) *pollLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = pollLimitWindow
	}
	return &pollLimiter{
		lastHit: make(map[string]time.Time),
		now:     now,
		window:  window,
	}
}

func (l *pollLimiter) Allow(userID, analysisID string) bool {
	if l == nil {
		return true
	}
	key := userID + "|" + analysisID
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastHit[key]; ok && now.Sub(last) < l.window {
		return false
	}
	l.lastHit[key] = now
	if len(l.lastHit) > pollSweepSize {
		l.sweep(now)
	}
	return true
}

func (l *pollLimiter) sweep(now time.Time) {
	for key, last := range l.lastHit {
		if now.Sub(last) > pollStaleAfter {
			delete(l.lastHit, key)
		}
	}
}

// RetryAfterSeconds rounds the window up to whole seconds for the Retry-After header.
func (l *pollLimiter) RetryAfterSeconds() int {
	window := pollLimitWindow
	if l != nil {
		window = l.window
	}
	secs := int((window + time.Second - 1) / time.Second)
	return max(secs, 1)
}
